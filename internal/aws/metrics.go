package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes single-count datapoints to CloudWatch.
// A nil *Metrics is valid and drops everything.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewMetrics returns a Metrics emitter for the namespace.
func NewMetrics(cw CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		CloudWatch: cw,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// Count records one occurrence of metric with a single dimension.
func (m *Metrics) Count(ctx context.Context, metric, dimName, dimValue string) error {
	if m == nil || m.CloudWatch == nil {
		return nil
	}
	one := 1.0
	now := m.nowFunc()
	datum := cwtypes.MetricDatum{
		MetricName: awsString(metric),
		Value:      &one,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  &now,
	}
	if dimName != "" {
		datum.Dimensions = []cwtypes.Dimension{{Name: awsString(dimName), Value: awsString(dimValue)}}
	}
	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsString(m.Namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
