package main

import (
	"io/ioutil"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/LadderMine/SoroFund/pkg/db"
	"github.com/LadderMine/SoroFund/pkg/engine"
	"github.com/LadderMine/SoroFund/pkg/events"
	"github.com/LadderMine/SoroFund/pkg/model"
)

type Config struct {
	// Log is the optional logging configuration
	Log Log `toml:"log"`
	// Database configuration
	Database db.Config `toml:"database"`
	// Engine holds vote windows, resubmission cap, admins and reputation tuning
	Engine engine.Config `toml:"engine"`
	// Sweep drives transitions caused by time passing (funding deadlines, appeal windows)
	Sweep Sweep `toml:"sweep"`
	// Events configures outbox delivery to hooks and Redis
	Events events.Config `toml:"events"`
}

type Log struct {
	// Filename to write the log to (instead of stdout)
	Filename string `toml:"filename"`
	// MaxSize is the maximum size of the log file in MB
	MaxSize int `toml:"max_size"`
	// MaxBackups is the maximum number of log file backups to keep after rotation
	MaxBackups int `toml:"max_backups"`
	// MaxAge is the maximum number of days to keep the logs for
	MaxAge int `toml:"max_age"`
	// Compress old backups
	Compress bool `toml:"compress"`
}

type Sweep struct {
	Schedule string `toml:"schedule"`
}

// LoadConfig loads TOML configuration from a file path
func LoadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	config := Config{}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal toml")
	}

	config.applyDefaults(path)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	var result *multierror.Error

	if c.Database.Dir == "" {
		result = multierror.Append(result, errors.New("database directory is required"))
	}

	if c.Engine.AppealWindow < 0 || c.Engine.DeclineWindow < 0 {
		result = multierror.Append(result, errors.New("engine windows can't be negative"))
	}

	if c.Engine.MaxResubmissions < 0 {
		result = multierror.Append(result, errors.Errorf("max_resubmissions can't be negative (got %d)", c.Engine.MaxResubmissions))
	}

	rep := c.Engine.Reputation
	if rep.Initial < model.MinReputationScore || rep.Initial > model.MaxReputationScore {
		result = multierror.Append(result, errors.Errorf("initial reputation must be within [%v, %v]",
			model.MinReputationScore, model.MaxReputationScore))
	}

	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "invalid sweep schedule %q", c.Sweep.Schedule))
	}

	if _, err := cron.ParseStandard(c.Events.Schedule); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "invalid events schedule %q", c.Events.Schedule))
	}

	for idx, hook := range c.Events.Hooks {
		if len(hook.Command) == 0 {
			result = multierror.Append(result, errors.Errorf("command is required for hook %d", idx))
		}
	}

	if c.Events.Redis != nil && c.Events.Redis.URL == "" {
		result = multierror.Append(result, errors.New("redis url is required"))
	}

	return result.ErrorOrNil()
}

func (c *Config) applyDefaults(configPath string) {
	if c.Log.Filename != "" {
		if c.Log.MaxSize == 0 {
			c.Log.MaxSize = model.DefaultLogMaxSize
		}
		if c.Log.MaxAge == 0 {
			c.Log.MaxAge = model.DefaultLogMaxAge
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = model.DefaultLogMaxBackups
		}
	}

	if c.Database.Dir == "" {
		c.Database.Dir = filepath.Join(filepath.Dir(configPath), "db")
	}

	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = model.DefaultSweepSchedule
	}

	if c.Events.Schedule == "" {
		c.Events.Schedule = model.DefaultRelaySchedule
	}

	c.Engine.ApplyDefaults()
}
