package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-readable durations ("2s", "500ms") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Redis   RedisConfig   `yaml:"redis"`
	MySQL   MySQLConfig   `yaml:"mysql"`
	HTTP    HTTPConfig    `yaml:"http"`
	Cache   CacheConfig   `yaml:"cache"`
	Seckill SeckillConfig `yaml:"seckill"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MySQLConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// HTTPConfig covers the metrics/health listener only; there is no request
// transport in this service.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type CacheConfig struct {
	ShopTTL        Duration `yaml:"shop_ttl"`
	VoucherTTL     Duration `yaml:"voucher_ttl"`
	AbsentTTL      Duration `yaml:"absent_ttl"`
	LockLease      Duration `yaml:"lock_lease"`
	RebuildWorkers int      `yaml:"rebuild_workers"`
	RebuildQueue   int      `yaml:"rebuild_queue"`
}

type SeckillConfig struct {
	Stream       string   `yaml:"stream"`
	Group        string   `yaml:"group"`
	Consumer     string   `yaml:"consumer"`
	BlockTimeout Duration `yaml:"block_timeout"`
	// WarmVouchers lists voucher ids whose stock is seeded into the cache
	// tier at startup.
	WarmVouchers []int64 `yaml:"warm_vouchers"`
}

func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/hdmp?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		HTTP: HTTPConfig{Addr: ":9090"},
		Cache: CacheConfig{
			ShopTTL:        Duration(30 * time.Minute),
			VoucherTTL:     Duration(30 * time.Minute),
			AbsentTTL:      Duration(2 * time.Minute),
			LockLease:      Duration(10 * time.Second),
			RebuildWorkers: 10,
			RebuildQueue:   100,
		},
		Seckill: SeckillConfig{
			Stream:       "stream.orders",
			Group:        "g1",
			Consumer:     "c1",
			BlockTimeout: Duration(2 * time.Second),
		},
	}
}

// Load reads the YAML file at path (empty path means defaults only) and then
// applies environment overrides REDIS_ADDR and MYSQL_DSN.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		cfg.MySQL.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Seckill.Stream == "" || c.Seckill.Group == "" || c.Seckill.Consumer == "" {
		return fmt.Errorf("seckill.stream, seckill.group and seckill.consumer are required")
	}
	if c.Cache.RebuildWorkers <= 0 {
		return fmt.Errorf("cache.rebuild_workers must be positive")
	}
	return nil
}
