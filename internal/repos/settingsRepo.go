package repos

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/wheelibin/sets/internal/constants"
	"github.com/wheelibin/sets/internal/models"
)

const initSchema = `
  CREATE TABLE IF NOT EXISTS setting (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
  );
`

// SettingsRepo is the durable settings store: one JSON document per key,
// mirroring the key-value settings facility of the host platform.
type SettingsRepo struct {
	logger *log.Logger
	db     *sql.DB
}

func NewSettingsRepo(logger *log.Logger, db *sql.DB) (*SettingsRepo, error) {

	_, err := db.Exec(initSchema)
	if err != nil {
		return nil, fmt.Errorf("error initialising settings schema: %w", err)
	}

	return &SettingsRepo{logger: logger, db: db}, nil
}

func (r *SettingsRepo) load(key string, v any) error {
	row := r.db.QueryRow("SELECT value FROM setting WHERE key = $1", key)

	var raw string
	err := row.Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			// never written, leave the zero value
			return nil
		}
		return fmt.Errorf("error reading setting (%s): %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("error decoding setting (%s): %w", key, err)
	}
	return nil
}

func (r *SettingsRepo) save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding setting (%s): %w", key, err)
	}

	_, err = r.db.Exec(`
    INSERT INTO setting (key, value) VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("error writing setting (%s): %w", key, err)
	}

	r.logger.Debug("settings update", "key", key)
	return nil
}

func (r *SettingsRepo) Sets() (map[string]*models.Set, error) {
	sets := map[string]*models.Set{}
	err := r.load(constants.SettingSets, &sets)
	return sets, err
}

func (r *SettingsRepo) SaveSets(sets map[string]*models.Set) error {
	return r.save(constants.SettingSets, sets)
}

func (r *SettingsRepo) States() (map[string]*models.StateDef, error) {
	states := map[string]*models.StateDef{}
	err := r.load(constants.SettingStates, &states)
	return states, err
}

func (r *SettingsRepo) SaveStates(states map[string]*models.StateDef) error {
	return r.save(constants.SettingStates, states)
}

func (r *SettingsRepo) SetLabels() (map[string]string, error) {
	labels := map[string]string{}
	err := r.load(constants.SettingSetLabels, &labels)
	return labels, err
}

func (r *SettingsRepo) SaveSetLabels(labels map[string]string) error {
	return r.save(constants.SettingSetLabels, labels)
}

func (r *SettingsRepo) StateLabels() (map[string]string, error) {
	labels := map[string]string{}
	err := r.load(constants.SettingStateLabels, &labels)
	return labels, err
}

func (r *SettingsRepo) SaveStateLabels(labels map[string]string) error {
	return r.save(constants.SettingStateLabels, labels)
}

func (r *SettingsRepo) Timers() (models.Timers, error) {
	timers := models.Timers{}
	err := r.load(constants.SettingTimers, &timers)
	return timers, err
}

func (r *SettingsRepo) SaveTimers(timers models.Timers) error {
	return r.save(constants.SettingTimers, timers)
}

func (r *SettingsRepo) Keys() ([]string, error) {
	rows, err := r.db.Query("SELECT key FROM setting ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("error reading setting keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		_ = rows.Scan(&key)
		keys = append(keys, key)
	}

	return keys, nil
}
