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
	"embed"
	"time"

	"github.com/communehq/commune/database"
	"github.com/communehq/commune/internal/cache"
)

// Commune is the service layer over the point ledger and the transactional
// outbox. All public operations run inside one database transaction each;
// callers that lose an optimistic race retry with a fresh read.
type Commune struct {
	datasource database.IDataSource
	cache      cache.Cache
	clock      Clock
}

// Clock supplies the current time. Daily-limit windows and outbox timestamps
// are computed from it rather than from direct time.Now calls.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewCommune initializes a new service instance with the provided datasource.
func NewCommune(db database.IDataSource) (*Commune, error) {
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	return &Commune{datasource: db, cache: newCache, clock: realClock{}}, nil
}
