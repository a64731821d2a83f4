package config

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/storage"
)

// Runtime setting keys.
const (
	KeyBatchSize       = "GEMINI_BATCH_SIZE"
	KeyTopComments     = "TOP_COMMENTS_COUNT"
	KeyPostFetchCount  = "REDDIT_POST_FETCH_COUNT"
	KeySortMethod      = "REDDIT_SORT_METHOD"
	KeyTimeFilter      = "REDDIT_TIME_FILTER"
	KeyCommentsPerPost = "REDDIT_COMMENTS_PER_POST"
	KeyFetchInterval   = "REDDIT_FETCH_INTERVAL"
	KeySubreddits      = "REDDIT_SUBREDDITS"
	KeyAutoEnabled     = "AUTO_SCRAPER_ENABLED"
	KeyRankFallback    = "RANK_FALLBACK_ENABLED"
)

// MinFetchInterval is the smallest accepted REDDIT_FETCH_INTERVAL, in minutes.
const MinFetchInterval = 5

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindInt  Kind = "int"
	KindBool Kind = "bool"
	KindStr  Kind = "str"
	KindList Kind = "list"
)

// Value is a resolved setting. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Int  int
	Bool bool
	Str  string
	List []string
}

func IntValue(v int) Value       { return Value{Kind: KindInt, Int: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func StrValue(v string) Value    { return Value{Kind: KindStr, Str: v} }
func ListValue(v []string) Value { return Value{Kind: KindList, List: append([]string(nil), v...)} }

// String renders the value in its storage form.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.Itoa(v.Int)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return strings.Join(v.List, ",")
	default:
		return v.Str
	}
}

// ParseValue converts raw into a Value of the given kind.
func ParseValue(kind Kind, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, raw)
		}
		return IntValue(n), nil
	case KindBool:
		b, err := ParseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case KindList:
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
		return ListValue(items), nil
	case KindStr:
		return StrValue(raw), nil
	}
	return Value{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidValue, kind)
}

// ParseBool accepts true/false, 1/0, yes/no and on/off.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: use true/false, 1/0, yes/no or on/off", ErrInvalidValue)
}

// Definition declares one runtime setting.
type Definition struct {
	Key         string
	Kind        Kind
	Default     Value
	Description string
	Validate    func(Value) error
}

var subredditName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func positive(v Value) error {
	if v.Int <= 0 {
		return fmt.Errorf("%w: must be greater than 0", ErrInvalidValue)
	}
	return nil
}

func oneOf(options ...string) func(Value) error {
	return func(v Value) error {
		for _, o := range options {
			if strings.EqualFold(v.Str, o) {
				return nil
			}
		}
		return fmt.Errorf("%w: must be one of %s", ErrInvalidValue, strings.Join(options, ", "))
	}
}

func rankingModes() []string {
	out := make([]string, len(models.RankingModes))
	for i, m := range models.RankingModes {
		out[i] = string(m)
	}
	return out
}

// Definitions returns the registered settings keyed by name.
func Definitions() map[string]Definition {
	defs := []Definition{
		{Key: KeyBatchSize, Kind: KindInt, Default: IntValue(10),
			Description: "Entries per judgment-service batch call", Validate: positive},
		{Key: KeyTopComments, Kind: KindInt, Default: IntValue(50),
			Description: "Highest-scoring entries sent to evaluation", Validate: positive},
		{Key: KeyPostFetchCount, Kind: KindInt, Default: IntValue(50),
			Description: "Parent items listed per source", Validate: positive},
		{Key: KeySortMethod, Kind: KindStr, Default: StrValue("hot"),
			Description: "Ranking mode: hot, new, top, controversial, rising, gilded",
			Validate:    oneOf(rankingModes()...)},
		{Key: KeyTimeFilter, Kind: KindStr, Default: StrValue("day"),
			Description: "Time window for top/controversial: all, year, month, week, day, hour",
			Validate:    oneOf(models.TimeWindows...)},
		{Key: KeyCommentsPerPost, Kind: KindInt, Default: IntValue(20),
			Description: "Child entries kept per parent item", Validate: positive},
		{Key: KeyFetchInterval, Kind: KindInt, Default: IntValue(60),
			Description: "Minutes between scheduled runs",
			Validate: func(v Value) error {
				if v.Int < MinFetchInterval {
					return fmt.Errorf("%w: interval must be at least %d minutes", ErrInvalidValue, MinFetchInterval)
				}
				return nil
			}},
		{Key: KeySubreddits, Kind: KindList,
			Default:     ListValue([]string{"python", "programming", "MachineLearning", "artificial", "technology"}),
			Description: "Sources to harvest (comma separated)",
			Validate: func(v Value) error {
				if len(v.List) == 0 {
					return fmt.Errorf("%w: at least one source is required", ErrInvalidValue)
				}
				for _, name := range v.List {
					if !subredditName.MatchString(name) {
						return fmt.Errorf("%w: invalid source name %q", ErrInvalidValue, name)
					}
				}
				return nil
			}},
		{Key: KeyAutoEnabled, Kind: KindBool, Default: BoolValue(false),
			Description: "Scheduler on/off switch"},
		{Key: KeyRankFallback, Kind: KindBool, Default: BoolValue(true),
			Description: "Without a judge, pick the top 10 by score at confidence 0.9"},
	}

	out := make(map[string]Definition, len(defs))
	for _, d := range defs {
		out[d.Key] = d
	}
	return out
}

// Resolve parses and validates raw against the definition for key.
func Resolve(key, raw string) (Value, error) {
	def, ok := Definitions()[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	v, err := ParseValue(def.Kind, raw)
	if err != nil {
		return Value{}, err
	}
	if def.Kind == KindStr && v.Str == "" {
		return Value{}, fmt.Errorf("%w: value cannot be empty", ErrInvalidValue)
	}
	if def.Kind == KindStr && def.Validate != nil {
		v.Str = strings.ToLower(v.Str)
	}
	if def.Validate != nil {
		if err := def.Validate(v); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// Entry is one row of the settings listing.
type Entry struct {
	Definition
	Value     Value
	UpdatedAt time.Time
}

// Settings is the typed key/value configuration store backed by the
// bot_config table. Values are cached after load and on every Set.
type Settings struct {
	db      *storage.DB
	logger  *zap.Logger
	defs    map[string]Definition
	mu      sync.RWMutex
	values  map[string]Value
	updated map[string]time.Time
}

// NewSettings loads stored values, persisting defaults (or seed overrides)
// for keys that are absent.
func NewSettings(ctx context.Context, db *storage.DB, seed map[string]string, logger *zap.Logger) (*Settings, error) {
	s := &Settings{
		db:      db,
		logger:  logging.OrNop(logger).Named("settings"),
		defs:    Definitions(),
		values:  make(map[string]Value),
		updated: make(map[string]time.Time),
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.defs))
	for key := range s.defs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			continue
		}
		value := s.defs[key].Default
		if raw, ok := seed[key]; ok {
			v, err := Resolve(key, raw)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", key, err)
			}
			value = v
		}
		if err := s.store(ctx, key, value); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Settings) load(ctx context.Context) error {
	query, args, err := sq.Select("config_key", "config_value", "config_type", "updated_at").
		From("bot_config").
		ToSql()
	if err != nil {
		return fmt.Errorf("build settings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, raw, kind string
			updated        int64
		)
		if err := rows.Scan(&key, &raw, &kind, &updated); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		if _, ok := s.defs[key]; !ok {
			continue
		}
		// Stored rows get the same checks as Set. A rejected row is left
		// out so NewSettings persists the default over it.
		v, err := Resolve(key, raw)
		if err != nil {
			s.logger.Warn("stored setting invalid, restoring default",
				zap.String("key", key), zap.String("value", raw), zap.Error(err))
			continue
		}
		s.values[key] = v
		s.updated[key] = time.UnixMilli(updated)
	}
	return rows.Err()
}

func (s *Settings) store(ctx context.Context, key string, value Value) error {
	def := s.defs[key]
	now := time.Now()

	query, args, err := sq.Insert("bot_config").
		Columns("config_key", "config_value", "config_type", "description", "updated_at").
		Values(key, value.String(), string(def.Kind), def.Description, now.UnixMilli()).
		Suffix("ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value, config_type = excluded.config_type, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build settings upsert: %w", err)
	}

	return s.db.WithWriteLock(func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("persist setting %s: %w", key, err)
		}
		s.mu.Lock()
		s.values[key] = value
		s.updated[key] = now
		s.mu.Unlock()
		return nil
	})
}

// Set validates raw and persists it under key.
func (s *Settings) Set(ctx context.Context, key, raw string) (Value, error) {
	v, err := Resolve(key, raw)
	if err != nil {
		return Value{}, err
	}
	if err := s.store(ctx, key, v); err != nil {
		return Value{}, err
	}
	s.logger.Info("setting updated", zap.String("key", key), zap.String("value", v.String()))
	return v, nil
}

// Get returns the current value for key, or the default.
func (s *Settings) Get(key string) Value {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return s.defs[key].Default
}

func (s *Settings) Int(key string) int       { return s.Get(key).Int }
func (s *Settings) Bool(key string) bool     { return s.Get(key).Bool }
func (s *Settings) String(key string) string { return s.Get(key).Str }

func (s *Settings) List(key string) []string {
	return append([]string(nil), s.Get(key).List...)
}

// All lists every setting sorted by key.
func (s *Settings) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.defs))
	for key, def := range s.defs {
		v, ok := s.values[key]
		if !ok {
			v = def.Default
		}
		out = append(out, Entry{Definition: def, Value: v, UpdatedAt: s.updated[key]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SourceSpecs builds one spec per configured source from the current values.
func (s *Settings) SourceSpecs() []models.SourceSpec {
	mode := models.RankingMode(s.String(KeySortMethod))
	names := s.List(KeySubreddits)

	specs := make([]models.SourceSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, models.SourceSpec{
			Name:        name,
			ParentLimit: s.Int(KeyPostFetchCount),
			Mode:        mode,
			TimeWindow:  s.String(KeyTimeFilter),
			ChildLimit:  s.Int(KeyCommentsPerPost),
		})
	}
	return specs
}

// Interval returns the configured scheduler interval in the given unit.
func (s *Settings) Interval(unit time.Duration) time.Duration {
	return time.Duration(s.Int(KeyFetchInterval)) * unit
}
