/*
Copyright 2024 Commune Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/communehq/commune/config"
	"github.com/communehq/commune/database/mocks"
	"github.com/communehq/commune/internal/cache"
)

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

func newTestService(t *testing.T, ds *mocks.MockDataSource, now time.Time) *Commune {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Broker: config.BrokerConfig{Exchange: "commune.events"},
		Points: config.PointsConfig{DailyLimits: map[string]int{
			"WRITE_POST":    3,
			"WRITE_COMMENT": 5,
		}},
	})
	c, err := cache.NewCache()
	require.NoError(t, err)
	return &Commune{datasource: ds, cache: c, clock: fixedClock{now: now}}
}
