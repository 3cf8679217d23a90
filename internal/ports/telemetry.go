package ports

import "context"

type Telemetry interface {
	TrackOperation(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
	RecordSettlement(ctx context.Context, metric, outcome string, amount int64)
}
