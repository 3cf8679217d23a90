package ports

// PayloadSealer wraps and unwraps the payout gateway's encrypted transport envelope.
type PayloadSealer interface {
	Seal(payload []byte) (string, error)
	Open(token string) ([]byte, error)
}
