package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestFallbackServicesFlag(t *testing.T) {
	for _, tc := range []struct {
		name     string
		value    string
		expected map[string]string
		str      string
		fail     bool
	}{{
		name:     "single service",
		value:    "orders=orders-service",
		expected: map[string]string{"orders": "orders-service"},
		str:      "orders=orders-service",
	}, {
		name:     "several services are sorted",
		value:    "users=users-service,orders=orders-service",
		expected: map[string]string{"orders": "orders-service", "users": "users-service"},
		str:      "orders=orders-service,users=users-service",
	}, {
		name:     "spaces are trimmed",
		value:    " orders = orders-service , payments=billing ",
		expected: map[string]string{"orders": "orders-service", "payments": "billing"},
		str:      "orders=orders-service,payments=billing",
	}, {
		name:  "missing service",
		value: "orders",
		fail:  true,
	}, {
		name:  "empty service",
		value: "orders=",
		fail:  true,
	}, {
		name:  "empty path name",
		value: "=orders-service",
		fail:  true,
	}, {
		name:  "empty",
		value: "",
		fail:  true,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			m := newMapFlags()
			err := m.Set(tc.value)
			if tc.fail {
				assert.Error(t, err)
				assert.Empty(t, m.Values())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, m.Values())
			assert.Equal(t, tc.str, m.String())
		})
	}
}

func TestFallbackServicesFlagYAML(t *testing.T) {
	m := newMapFlags()
	require.NoError(t, yaml.Unmarshal([]byte("orders: orders-service\nusers: users-service\n"), m))
	assert.Equal(t, map[string]string{"orders": "orders-service", "users": "users-service"}, m.Values())

	assert.Error(t, yaml.Unmarshal([]byte("[orders]"), m))
}

func TestFallbackServicesFlagValuesCopy(t *testing.T) {
	m := newMapFlags()
	require.NoError(t, m.Set("orders=orders-service"))

	v := m.Values()
	v["orders"] = "changed"
	assert.Equal(t, "orders-service", m.Values()["orders"])

	var n *mapFlags
	assert.Nil(t, n.Values())
	assert.NoError(t, n.Set("orders=orders-service"))
}
