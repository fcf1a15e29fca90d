package scaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managerAt(t *testing.T, policies []Policy) (*Manager, *time.Time) {
	t.Helper()
	m := NewManager(policies)
	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func singleTriggerPolicy(cooldown time.Duration) Policy {
	return Policy{
		ID:           "p1",
		ResourceType: "scan_worker",
		Triggers: []Trigger{
			{Metric: "queue_depth", Operator: OperatorGreaterThan, Threshold: 10, Duration: 5 * time.Minute, Aggregation: AggregationAverage},
		},
		Actions:        []Action{{Type: ActionScaleUp, Target: "scan_worker", Adjustment: 2}},
		CooldownPeriod: cooldown,
		Enabled:        true,
	}
}

func TestEvaluateFiresAboveThreshold(t *testing.T) {
	m, _ := managerAt(t, []Policy{singleTriggerPolicy(10 * time.Minute)})
	m.Record("queue_depth", 12)
	m.Record("queue_depth", 14)

	fired := m.Evaluate()

	require.Len(t, fired, 1)
	assert.Equal(t, "p1", fired[0].PolicyID)
	assert.Equal(t, ActionScaleUp, fired[0].Actions[0].Type)
	assert.Equal(t, 2, fired[0].Actions[0].Adjustment)

	p, err := m.Policy("p1")
	require.NoError(t, err)
	require.NotNil(t, p.LastTriggered)
}

func TestEvaluateQuietBelowThreshold(t *testing.T) {
	m, _ := managerAt(t, []Policy{singleTriggerPolicy(10 * time.Minute)})
	m.Record("queue_depth", 3)
	m.Record("queue_depth", 5)

	assert.Empty(t, m.Evaluate())
}

func TestEvaluateNoSamplesNoFire(t *testing.T) {
	m, _ := managerAt(t, []Policy{singleTriggerPolicy(10 * time.Minute)})

	assert.Empty(t, m.Evaluate())
}

func TestCooldownSuppressesRefire(t *testing.T) {
	m, clock := managerAt(t, []Policy{singleTriggerPolicy(10 * time.Minute)})
	m.Record("queue_depth", 20)

	require.Len(t, m.Evaluate(), 1)

	*clock = clock.Add(5 * time.Minute)
	m.Record("queue_depth", 20)
	assert.Empty(t, m.Evaluate(), "inside cooldown")

	*clock = clock.Add(6 * time.Minute)
	m.Record("queue_depth", 20)
	assert.Len(t, m.Evaluate(), 1, "cooldown elapsed")
}

func TestDisabledPolicyNeverFires(t *testing.T) {
	p := singleTriggerPolicy(time.Minute)
	p.Enabled = false
	m, _ := managerAt(t, []Policy{p})
	m.Record("queue_depth", 100)

	assert.Empty(t, m.Evaluate())

	require.NoError(t, m.SetEnabled("p1", true))
	assert.Len(t, m.Evaluate(), 1)
}

func TestSamplesOutsideWindowIgnored(t *testing.T) {
	m, clock := managerAt(t, []Policy{singleTriggerPolicy(time.Minute)})
	m.Record("queue_depth", 100)

	*clock = clock.Add(6 * time.Minute)
	m.Record("queue_depth", 1)

	assert.Empty(t, m.Evaluate(), "stale spike must not count toward the average")
}

func TestAggregations(t *testing.T) {
	cases := []struct {
		agg       Aggregation
		threshold float64
		op        Operator
		fires     bool
	}{
		{AggregationAverage, 5, OperatorGreaterThan, true},  // avg(2,4,12)=6
		{AggregationMax, 11, OperatorGreaterThan, true},     // max=12
		{AggregationMin, 3, OperatorLessOrEqual, true},      // min=2
		{AggregationSum, 20, OperatorLessThan, true},        // sum=18
		{AggregationSum, 18, OperatorGreaterThan, false},    // sum==18
		{AggregationMax, 12, OperatorGreaterOrEqual, true},  // max==12
	}
	for _, tc := range cases {
		t.Run(string(tc.agg)+"_"+string(tc.op), func(t *testing.T) {
			p := singleTriggerPolicy(time.Minute)
			p.Triggers[0] = Trigger{
				Metric: "m", Operator: tc.op, Threshold: tc.threshold,
				Duration: time.Minute, Aggregation: tc.agg,
			}
			m, _ := managerAt(t, []Policy{p})
			for _, v := range []float64{2, 4, 12} {
				m.Record("m", v)
			}
			assert.Equal(t, tc.fires, len(m.Evaluate()) == 1)
		})
	}
}

func TestPolicyFiresAtMostOncePerEvaluate(t *testing.T) {
	p := singleTriggerPolicy(time.Minute)
	p.Triggers = append(p.Triggers, Trigger{
		Metric: "queue_depth", Operator: OperatorGreaterThan, Threshold: 1,
		Duration: 5 * time.Minute, Aggregation: AggregationMax,
	})
	m, _ := managerAt(t, []Policy{p})
	m.Record("queue_depth", 50)

	assert.Len(t, m.Evaluate(), 1)
}

func TestDefaultPoliciesInstalled(t *testing.T) {
	m := NewManager(DefaultPolicies())

	for _, id := range []string{"scan-worker-scale-up", "scan-worker-scale-down", "api-error-alert"} {
		p, err := m.Policy(id)
		require.NoError(t, err)
		assert.True(t, p.Enabled)
		assert.NotEmpty(t, p.Triggers)
		assert.NotEmpty(t, p.Actions)
		assert.Nil(t, p.LastTriggered)
	}

	_, err := m.Policy("missing")
	assert.Error(t, err)
}
