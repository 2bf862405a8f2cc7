package observability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchAPI is the subset of the CloudWatch client the recorder needs
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder publishes flush metrics to CloudWatch. It is meant for
// Lambda, where nothing scrapes a Prometheus endpoint. Store write outcomes
// are counted in memory and published together with the next flush.
type CloudWatchRecorder struct {
	namespace   string
	serviceName string
	client      CloudWatchAPI
	logger      *zap.Logger

	writeSuccesses atomic.Int64
	writeFailures  atomic.Int64
}

// NewCloudWatchRecorder creates a recorder for namespace. A nil client
// turns every call into a no-op.
func NewCloudWatchRecorder(namespace, serviceName string, client CloudWatchAPI, logger *zap.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchRecorder{
		namespace:   namespace,
		serviceName: serviceName,
		client:      client,
		logger:      logger,
	}
}

// ObservationBuffered implements Recorder; per-request metrics are not
// published to CloudWatch
func (m *CloudWatchRecorder) ObservationBuffered(int) {}

// StoreWrite implements Recorder
func (m *CloudWatchRecorder) StoreWrite(_ context.Context, outcome string, _ time.Duration) {
	if outcome == WriteSuccess {
		m.writeSuccesses.Add(1)
		return
	}
	m.writeFailures.Add(1)
}

// BatchFlushed implements Recorder
func (m *CloudWatchRecorder) BatchFlushed(ctx context.Context, mode FlushMode, size int, duration time.Duration, err error) {
	if m.client == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	now := aws.Time(time.Now())
	dimensions := []types.Dimension{
		{
			Name:  aws.String("ServiceName"),
			Value: aws.String(m.serviceName),
		},
		{
			Name:  aws.String("FlushMode"),
			Value: aws.String(string(mode)),
		},
	}
	withStatus := append(append([]types.Dimension{}, dimensions...), types.Dimension{
		Name:  aws.String("Status"),
		Value: aws.String(status),
	})

	metricData := []types.MetricDatum{
		{
			MetricName: aws.String("BatchFlushed"),
			Dimensions: withStatus,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
			Timestamp:  now,
		},
		{
			MetricName: aws.String("BatchSize"),
			Dimensions: dimensions,
			Value:      aws.Float64(float64(size)),
			Unit:       types.StandardUnitCount,
			Timestamp:  now,
		},
		{
			MetricName: aws.String("FlushLatency"),
			Dimensions: dimensions,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  now,
		},
		{
			MetricName: aws.String("StoreWriteSuccess"),
			Dimensions: dimensions,
			Value:      aws.Float64(float64(m.writeSuccesses.Swap(0))),
			Unit:       types.StandardUnitCount,
			Timestamp:  now,
		},
		{
			MetricName: aws.String("StoreWriteFailure"),
			Dimensions: dimensions,
			Value:      aws.Float64(float64(m.writeFailures.Swap(0))),
			Unit:       types.StandardUnitCount,
			Timestamp:  now,
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: metricData,
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		// Metrics must never fail the flush
		m.logger.Warn("Failed to send metrics", zap.Error(err))
	}
}
