// Package calendar tracks exchange trading holidays per country, merging
// a built-in table with provider-fetched entries cached on disk.
package calendar

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mkkang/swingbot/internal/common"
	"github.com/mkkang/swingbot/internal/models"
	"github.com/mkkang/swingbot/internal/storage"
)

// Built-in closures. These are authoritative: a fetched row never
// overrides a date listed here.
var builtinHolidays = map[string]map[string]string{
	"KR": {
		"2025-01-01": "New Year's Day",
		"2025-01-28": "Seollal",
		"2025-01-29": "Seollal",
		"2025-01-30": "Seollal",
		"2025-03-03": "Independence Movement Day (observed)",
		"2025-05-05": "Children's Day / Buddha's Birthday",
		"2025-05-06": "Buddha's Birthday (observed)",
		"2025-06-06": "Memorial Day",
		"2025-08-15": "Liberation Day",
		"2025-10-03": "National Foundation Day",
		"2025-10-06": "Chuseok",
		"2025-10-07": "Chuseok",
		"2025-10-08": "Chuseok",
		"2025-10-09": "Hangul Day",
		"2025-12-25": "Christmas Day",
		"2025-12-31": "Year-end closure",
		"2026-01-01": "New Year's Day",
		"2026-02-16": "Seollal",
		"2026-02-17": "Seollal",
		"2026-02-18": "Seollal",
		"2026-03-02": "Independence Movement Day (observed)",
		"2026-05-05": "Children's Day",
		"2026-05-25": "Buddha's Birthday (observed)",
		"2026-08-17": "Liberation Day (observed)",
		"2026-09-24": "Chuseok",
		"2026-09-25": "Chuseok",
		"2026-10-05": "National Foundation Day (observed)",
		"2026-10-09": "Hangul Day",
		"2026-12-25": "Christmas Day",
		"2026-12-31": "Year-end closure",
	},
	"US": {
		"2025-01-01": "New Year's Day",
		"2025-01-20": "Martin Luther King Jr. Day",
		"2025-02-17": "Washington's Birthday",
		"2025-04-18": "Good Friday",
		"2025-05-26": "Memorial Day",
		"2025-06-19": "Juneteenth",
		"2025-07-04": "Independence Day",
		"2025-09-01": "Labor Day",
		"2025-11-27": "Thanksgiving Day",
		"2025-12-25": "Christmas Day",
		"2026-01-01": "New Year's Day",
		"2026-01-19": "Martin Luther King Jr. Day",
		"2026-02-16": "Washington's Birthday",
		"2026-04-03": "Good Friday",
		"2026-05-25": "Memorial Day",
		"2026-06-19": "Juneteenth",
		"2026-07-03": "Independence Day (observed)",
		"2026-09-07": "Labor Day",
		"2026-11-26": "Thanksgiving Day",
		"2026-12-25": "Christmas Day",
	},
}

// Country code aliases accepted on fetched rows.
var countryAliases = map[string][]string{
	"US": {"US", "USA", "840"},
	"KR": {"KR", "KOR", "410"},
}

// Notes considered noise: provider rows sometimes carry exchange names
// instead of an event, which say nothing about the session.
var noiseNotes = map[string]bool{
	"amex":   true,
	"아멕스": true,
}

type persistedEntry struct {
	Note   string `json:"note,omitempty"`
	IsOpen bool   `json:"is_open"`
}

// Store loads, merges, and persists holiday calendars per country.
type Store struct {
	files  *storage.Store
	logger *common.Logger

	mu    sync.Mutex
	cache map[string]map[string]models.HolidayEntry
}

// NewStore creates a holiday store over the given file store.
func NewStore(files *storage.Store, logger *common.Logger) *Store {
	return &Store{
		files:  files,
		logger: logger,
		cache:  make(map[string]map[string]models.HolidayEntry),
	}
}

func cacheKey(country string) string {
	return "holidays_" + strings.ToLower(country)
}

// normalizeCountry maps an alias to its canonical country code.
func normalizeCountry(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for cc, aliases := range countryAliases {
		for _, a := range aliases {
			if raw == a {
				return cc
			}
		}
	}
	return ""
}

// normalizeDate accepts YYYYMMDD or YYYY-MM-DD and returns YYYY-MM-DD.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "-", ""))
	if len(raw) != 8 {
		return ""
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return raw[:4] + "-" + raw[4:6] + "-" + raw[6:]
}

// trusted reports whether date comes from the built-in table for country.
func trusted(country, date string) bool {
	table, ok := builtinHolidays[strings.ToUpper(country)]
	if !ok {
		return false
	}
	_, ok = table[date]
	return ok
}

// Entries returns the merged calendar for a country: the persisted cache
// filtered of noise, with the built-in table layered on top.
func (s *Store) Entries(country string) map[string]models.HolidayEntry {
	country = strings.ToUpper(country)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[country]; ok {
		return cached
	}

	merged := make(map[string]models.HolidayEntry)

	var persisted map[string]persistedEntry
	if _, ok := s.files.Load(cacheKey(country), &persisted); ok {
		for date, e := range persisted {
			if !keepCachedEntry(country, date, e) {
				continue
			}
			merged[date] = models.HolidayEntry{Date: date, Note: e.Note, IsOpen: e.IsOpen}
		}
	}

	for date, note := range builtinHolidays[country] {
		merged[date] = models.HolidayEntry{Date: date, Note: note, IsOpen: false}
	}

	s.cache[country] = merged
	return merged
}

// keepCachedEntry filters persisted rows that carry no usable signal.
// Closures with no note and rows whose note is a bare exchange name are
// dropped unless the date is backed by the built-in table.
func keepCachedEntry(country, date string, e persistedEntry) bool {
	if trusted(country, date) {
		return true
	}
	note := strings.ToLower(strings.TrimSpace(e.Note))
	if !e.IsOpen && note == "" {
		return false
	}
	if noiseNotes[note] {
		return false
	}
	return true
}

// IsHoliday reports whether the exchange is closed on date (YYYY-MM-DD).
func (s *Store) IsHoliday(country, date string) bool {
	entry, ok := s.Entries(country)[date]
	return ok && !entry.IsOpen
}

// Lookup returns the calendar entry for a date, if any.
func (s *Store) Lookup(country, date string) (models.HolidayEntry, bool) {
	entry, ok := s.Entries(country)[date]
	return entry, ok
}

// Merge folds provider-fetched rows into the country's calendar and
// persists the result. Rows for other countries, unparseable dates, and
// rows without a session flag or event description are skipped. Built-in
// dates are never overridden.
func (s *Store) Merge(country string, rows []map[string]any) (int, error) {
	country = strings.ToUpper(country)

	existing := s.Entries(country)

	merged := make(map[string]persistedEntry, len(existing))
	for date, e := range existing {
		merged[date] = persistedEntry{Note: e.Note, IsOpen: e.IsOpen}
	}

	added := 0
	for _, row := range rows {
		date, entry, ok := parseRow(country, row)
		if !ok {
			continue
		}
		if trusted(country, date) {
			continue
		}
		if _, exists := merged[date]; !exists {
			added++
		}
		merged[date] = entry
	}

	if err := s.files.Save(cacheKey(country), merged); err != nil {
		return added, fmt.Errorf("failed to persist holiday calendar for %s: %w", country, err)
	}

	s.mu.Lock()
	delete(s.cache, country)
	s.mu.Unlock()

	return added, nil
}

// Invalidate drops the in-memory calendar so the next read hits disk.
func (s *Store) Invalidate(country string) {
	s.mu.Lock()
	delete(s.cache, strings.ToUpper(country))
	s.mu.Unlock()
}

func rowString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}

// parseRow extracts one calendar entry from a raw provider row.
func parseRow(country string, row map[string]any) (string, persistedEntry, bool) {
	nat := rowString(row, "natn_cd", "nationality", "country", "natn_eng_abrv_cd")
	if nat != "" && normalizeCountry(nat) != country {
		return "", persistedEntry{}, false
	}

	date := normalizeDate(rowString(row, "trd_dt", "base_date", "bass_dt", "date", "locl_dt"))
	if date == "" {
		return "", persistedEntry{}, false
	}

	note := rowString(row, "holi_nm", "event", "note", "dl_dt_nm", "holiday_name")
	if noiseNotes[strings.ToLower(note)] {
		return "", persistedEntry{}, false
	}

	flag := strings.ToUpper(rowString(row, "open_yn", "mket_opn_yn", "cntr_div_cd", "opng_yn"))
	if flag == "" {
		// No session flag: keep only rows that at least describe an event.
		if note == "" {
			return "", persistedEntry{}, false
		}
		return date, persistedEntry{Note: note, IsOpen: false}, true
	}

	isOpen := false
	switch flag {
	case "Y", "OPEN", "1", "T", "TRUE":
		isOpen = true
	}
	return date, persistedEntry{Note: note, IsOpen: isOpen}, true
}
