package commission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradedesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const seedSchema = `{
  "type": "object",
  "required": ["commissions"],
  "additionalProperties": false,
  "properties": {
    "commissions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "percent_value"],
        "additionalProperties": false,
        "properties": {
          "name": {"enum": ["platform", "referring-agent"]},
          "percent_value": {"type": "number", "minimum": 0, "maximum": 0.99}
        }
      }
    }
  }
}`

// SeedEntry 描述种子文件中的一条费率。
type SeedEntry struct {
	Name         string          `yaml:"name"`
	PercentValue decimal.Decimal `yaml:"percent_value"`
}

// SeedFile 映射 commissions 种子文件。
type SeedFile struct {
	Commissions []SeedEntry `yaml:"commissions"`
}

// SeedState 是最近一次成功应用的种子。
type SeedState struct {
	Version   int64
	AppliedAt time.Time
	Entries   []SeedEntry
}

// Seeder 在启动及文件变更时把种子文件写入佣金表。
type Seeder struct {
	path  string
	table *Table
	v     *viper.Viper

	mu    sync.RWMutex
	state SeedState
}

// NewSeeder 立即应用一次种子；watch 为 true 时监听文件变化。
func NewSeeder(ctx context.Context, path string, table *Table, watch bool) (*Seeder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("commission seeder requires path")
	}
	if table == nil {
		return nil, fmt.Errorf("commission seeder requires table")
	}
	s := &Seeder{path: path, table: table}
	if err := s.Apply(ctx); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read commission seed failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			if err := s.Apply(context.Background()); err != nil {
				logger.Errorf("commission seed reload failed: %v", err)
			}
		})
		v.WatchConfig()
		s.v = v
	}
	return s, nil
}

// State 返回最近一次应用的种子。
func (s *Seeder) State() SeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	out.Entries = append([]SeedEntry(nil), s.state.Entries...)
	return out
}

// Apply 读取、校验并写入种子文件。任何一条失败都不会更新 State。
func (s *Seeder) Apply(ctx context.Context) error {
	seed, err := ReadSeedFile(s.path)
	if err != nil {
		return err
	}
	for _, entry := range seed.Commissions {
		if err := s.table.Update(ctx, entry.Name, entry.PercentValue); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.state = SeedState{
		Version:   s.state.Version + 1,
		AppliedAt: time.Now(),
		Entries:   seed.Commissions,
	}
	s.mu.Unlock()
	logger.Infof("佣金种子已应用 %d 条 (%s)", len(seed.Commissions), filepath.Base(s.path))
	return nil
}

// ReadSeedFile 严格解析种子文件并按 JSON Schema 校验。
func ReadSeedFile(path string) (SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("read commission seed failed: %w", err)
	}
	if err := validateSeed(raw); err != nil {
		return SeedFile{}, fmt.Errorf("commission seed %s invalid: %w", filepath.Base(path), err)
	}
	var seed SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return SeedFile{}, fmt.Errorf("parse commission seed failed: %w", err)
	}
	return seed, nil
}

var (
	seedSchemaOnce     sync.Once
	seedSchemaCompiled *jsonschema.Schema
	seedSchemaErr      error
)

func validateSeed(raw []byte) error {
	seedSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("commission_seed.json", strings.NewReader(seedSchema)); err != nil {
			seedSchemaErr = err
			return
		}
		seedSchemaCompiled, seedSchemaErr = compiler.Compile("commission_seed.json")
	})
	if seedSchemaErr != nil {
		return seedSchemaErr
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	// yaml 的 int/map 类型需经 JSON 往返后才能交给 schema 校验。
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var normalized any
	if err := json.Unmarshal(buf, &normalized); err != nil {
		return err
	}
	return seedSchemaCompiled.Validate(normalized)
}
