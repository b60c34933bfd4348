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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRelayPollIntervalSec = 5
	DefaultRelayBatchSize       = 50
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"COMMUNE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"COMMUNE_REDIS_DNS"`
}

type BrokerConfig struct {
	Url      string `json:"url" envconfig:"COMMUNE_BROKER_URL"`
	Exchange string `json:"exchange" envconfig:"COMMUNE_BROKER_EXCHANGE"`
}

type RelayConfig struct {
	PollIntervalSec int `json:"poll_interval_sec" envconfig:"COMMUNE_RELAY_POLL_INTERVAL_SEC"`
	BatchSize       int `json:"batch_size" envconfig:"COMMUNE_RELAY_BATCH_SIZE"`
}

// PointsConfig carries the per-type daily earning caps. A type absent from
// DailyLimits is uncapped.
type PointsConfig struct {
	DailyLimits map[string]int `json:"daily_limits"`
}

type Configuration struct {
	ProjectName string           `json:"project_name" envconfig:"COMMUNE_PROJECT_NAME"`
	DataSource  DataSourceConfig `json:"data_source"`
	Redis       RedisConfig      `json:"redis"`
	Broker      BrokerConfig     `json:"broker"`
	Relay       RelayConfig      `json:"relay"`
	Points      PointsConfig     `json:"points"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("commune", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called commune.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Commune Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Broker.Url = strings.TrimSpace(cnf.Broker.Url)

	if cnf.Broker.Exchange == "" {
		cnf.Broker.Exchange = "commune.events"
	}

	if cnf.Relay.PollIntervalSec <= 0 {
		cnf.Relay.PollIntervalSec = DefaultRelayPollIntervalSec
		log.Printf("Warning: Relay poll interval not specified. Setting default value: %d seconds", DefaultRelayPollIntervalSec)
	}
	if cnf.Relay.BatchSize <= 0 {
		cnf.Relay.BatchSize = DefaultRelayBatchSize
		log.Printf("Warning: Relay batch size not specified. Setting default value: %d", DefaultRelayBatchSize)
	}

	if cnf.Points.DailyLimits == nil {
		cnf.Points.DailyLimits = map[string]int{
			"WRITE_POST":    3,
			"WRITE_COMMENT": 5,
			"ADD_REACTION":  10,
			"RESUME_REVIEW": 1,
		}
	}
	for entryType, limit := range cnf.Points.DailyLimits {
		if limit <= 0 {
			log.Printf("Warning: Daily limit for %s is not positive, treating the type as uncapped.", entryType)
			delete(cnf.Points.DailyLimits, entryType)
		}
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Points.DailyLimits == nil {
		mockConfig.Points.DailyLimits = map[string]int{}
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
