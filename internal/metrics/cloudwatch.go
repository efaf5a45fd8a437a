package metrics

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// API is the subset of the CloudWatch client this package depends on,
// following the package-local client-interface convention used across
// internal/queue and internal/publish.
type API interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch emits observations as CloudWatch metric data points under
// a fixed namespace.
type CloudWatch struct {
	api       API
	namespace string
}

// NewCloudWatch builds a Sink over api, publishing under namespace.
func NewCloudWatch(api API, namespace string) *CloudWatch {
	return &CloudWatch{api: api, namespace: namespace}
}

// Emit satisfies Sink.
func (c *CloudWatch) Emit(ctx context.Context, name string, value float64, dims map[string]string) error {
	datum := types.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       types.StandardUnitCount,
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, types.Dimension{Name: &k, Value: &v})
	}

	_, err := c.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &c.namespace,
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("metrics: put metric data: %w", err)
	}
	return nil
}

var _ Sink = (*CloudWatch)(nil)
