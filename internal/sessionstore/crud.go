package sessionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Create inserts a new session. name must match [A-Za-z0-9_-]+ and be
// unique; violating either is a DuplicateSession or InvalidInput Error.
func (s *Store) Create(name string, opts Session) (*Session, error) {
	if !nameRE.MatchString(name) {
		return nil, newErr(KindInvalidInput, fmt.Sprintf("invalid session name %q", name))
	}

	id := newID()
	ts := now()
	status := opts.Status
	if status == "" {
		status = StatusActive
	}
	tags, err := json.Marshal(nonNilStrings(opts.Tags))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}
	metadata, err := json.Marshal(nonNilMap(opts.Metadata))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}
	projects, err := json.Marshal(nonNilStrings(opts.Projects))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}

	_, err = s.db.Exec(`INSERT INTO sessions (id, name, created_at, updated_at, status, linear_task, description, tags, metadata, projects)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, ts, ts, string(status), nullIfEmpty(opts.LinearTask), nullIfEmpty(opts.Description), string(tags), string(metadata), string(projects))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, newErr(KindDuplicateSession, fmt.Sprintf("session name %q already exists", name))
		}
		return nil, newErr(KindConnectionError, err.Error())
	}

	for project, wt := range opts.Worktrees {
		if err := s.insertWorktree(id, project, wt); err != nil {
			return nil, err
		}
	}

	return s.GetByID(id)
}

func (s *Store) insertWorktree(sessionID, project string, wt Worktree) error {
	ts := now()
	_, err := s.db.Exec(`INSERT INTO session_worktrees (session_id, project_name, path, branch, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, project, wt.Path, nullIfEmpty(wt.Branch), ts)
	if err != nil {
		return newErr(KindConnectionError, err.Error())
	}
	return nil
}

// GetByID hydrates a session by id, including its worktrees.
func (s *Store) GetByID(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, updated_at, status, linear_task, description, tags, metadata, projects FROM sessions WHERE id = ?`, id)
	return s.scanSession(row)
}

// GetByName hydrates a session by its unique name.
func (s *Store) GetByName(name string) (*Session, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at, updated_at, status, linear_task, description, tags, metadata, projects FROM sessions WHERE name = ?`, name)
	return s.scanSession(row)
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var (
		sess                                     Session
		statusStr, tags, metadata, projects      string
		linearTask, description                  sql.NullString
		createdAt, updatedAt                      string
	)
	if err := row.Scan(&sess.ID, &sess.Name, &createdAt, &updatedAt, &statusStr, &linearTask, &description, &tags, &metadata, &projects); err != nil {
		if err == sql.ErrNoRows {
			return nil, newErr(KindSessionNotFound, "session not found")
		}
		return nil, newErr(KindConnectionError, err.Error())
	}

	var err error
	sess.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, newErr(KindIntegrity, err.Error())
	}
	sess.UpdatedAt, err = parseTimestamp(updatedAt)
	if err != nil {
		return nil, newErr(KindIntegrity, err.Error())
	}
	sess.Status = Status(statusStr)
	sess.LinearTask = linearTask.String
	sess.Description = description.String
	if err := json.Unmarshal([]byte(tags), &sess.Tags); err != nil {
		return nil, newErr(KindIntegrity, fmt.Sprintf("corrupt tags column: %s", err))
	}
	if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
		return nil, newErr(KindIntegrity, fmt.Sprintf("corrupt metadata column: %s", err))
	}
	if err := json.Unmarshal([]byte(projects), &sess.Projects); err != nil {
		return nil, newErr(KindIntegrity, fmt.Sprintf("corrupt projects column: %s", err))
	}

	worktrees, err := s.loadWorktrees(sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Worktrees = worktrees

	files, err := s.loadFiles(sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Files = files

	return &sess, nil
}

func (s *Store) loadWorktrees(sessionID string) (map[string]Worktree, error) {
	rows, err := s.db.Query(`SELECT project_name, path, branch, created_at FROM session_worktrees WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	defer rows.Close()

	out := make(map[string]Worktree)
	for rows.Next() {
		var (
			project, path, createdAt string
			branch                   sql.NullString
		)
		if err := rows.Scan(&project, &path, &branch, &createdAt); err != nil {
			return nil, newErr(KindConnectionError, err.Error())
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, newErr(KindIntegrity, err.Error())
		}
		out[project] = Worktree{ProjectName: project, Path: path, Branch: branch.String, CreatedAt: ts}
	}
	return out, rows.Err()
}

// RecordFile tracks one file applied against a session (a copy, a
// symlink, or a rendered template) for audit purposes.
func (s *Store) RecordFile(sessionID string, f File) (*File, error) {
	ts := now()
	_, err := s.db.Exec(`INSERT INTO session_files (session_id, path, kind, checksum, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, f.Path, f.Kind, nullIfEmpty(f.Checksum), ts)
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	createdAt, err := parseTimestamp(ts)
	if err != nil {
		return nil, newErr(KindIntegrity, err.Error())
	}
	f.CreatedAt = createdAt
	return &f, nil
}

// ListFiles returns every file tracked against a session, oldest first.
func (s *Store) ListFiles(sessionID string) ([]File, error) {
	return s.loadFiles(sessionID)
}

func (s *Store) loadFiles(sessionID string) ([]File, error) {
	rows, err := s.db.Query(`SELECT path, kind, checksum, created_at FROM session_files WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var (
			path, kind, createdAt string
			checksum              sql.NullString
		)
		if err := rows.Scan(&path, &kind, &checksum, &createdAt); err != nil {
			return nil, newErr(KindConnectionError, err.Error())
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, newErr(KindIntegrity, err.Error())
		}
		out = append(out, File{Path: path, Kind: kind, Checksum: checksum.String, CreatedAt: ts})
	}
	return out, rows.Err()
}

// Update applies partial field changes with optimistic locking:
// expectedVersion must equal the session's current updated_at, or the
// write is rejected with a Conflict Error and nothing changes.
func (s *Store) Update(id string, expectedVersion time.Time, patch func(*Session)) (*Session, error) {
	current, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	if !current.UpdatedAt.Equal(expectedVersion) {
		return nil, newErr(KindConflict, fmt.Sprintf("session %q was modified concurrently (expected version %s, found %s)",
			id, expectedVersion.Format(time.RFC3339Nano), current.UpdatedAt.Format(time.RFC3339Nano)))
	}

	updated := *current
	patch(&updated)

	tags, err := json.Marshal(nonNilStrings(updated.Tags))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}
	metadata, err := json.Marshal(nonNilMap(updated.Metadata))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}
	projects, err := json.Marshal(nonNilStrings(updated.Projects))
	if err != nil {
		return nil, newErr(KindInvalidInput, err.Error())
	}

	newVersion := now()
	res, err := s.db.Exec(`UPDATE sessions SET status = ?, linear_task = ?, description = ?, tags = ?, metadata = ?, projects = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		string(updated.Status), nullIfEmpty(updated.LinearTask), nullIfEmpty(updated.Description), string(tags), string(metadata), string(projects),
		newVersion, id, current.UpdatedAt.Format("2006-01-02T15:04:05.000000Z"))
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	if n == 0 {
		return nil, newErr(KindConflict, fmt.Sprintf("session %q was modified concurrently", id))
	}

	return s.GetByID(id)
}

// Delete cascades to session_worktrees and session_files.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return newErr(KindConnectionError, err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newErr(KindConnectionError, err.Error())
	}
	if n == 0 {
		return newErr(KindSessionNotFound, fmt.Sprintf("session %q not found", id))
	}
	return nil
}

// ListFilters narrows List/Search results.
type ListFilters struct {
	Status Status
	Tag    string
}

// ListOpts controls pagination and ordering of List.
type ListOpts struct {
	Filters ListFilters
	Limit   int
	Offset  int
}

// List returns sessions matching the filters, newest-updated first.
func (s *Store) List(opts ListOpts) ([]Session, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, name, created_at, updated_at, status, linear_task, description, tags, metadata, projects FROM sessions WHERE 1=1`
	var args []interface{}
	if opts.Filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Filters.Status))
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		if opts.Filters.Tag != "" && !containsTag(sess.Tags, opts.Filters.Tag) {
			continue
		}
		worktrees, err := s.loadWorktrees(sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Worktrees = worktrees
		files, err := s.loadFiles(sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Files = files
		results = append(results, *sess)
	}
	return results, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(row scannable) (*Session, error) {
	var (
		sess                                 Session
		statusStr, tags, metadata, projects  string
		linearTask, description              sql.NullString
		createdAt, updatedAt                 string
	)
	if err := row.Scan(&sess.ID, &sess.Name, &createdAt, &updatedAt, &statusStr, &linearTask, &description, &tags, &metadata, &projects); err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	var err error
	sess.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, newErr(KindIntegrity, err.Error())
	}
	sess.UpdatedAt, err = parseTimestamp(updatedAt)
	if err != nil {
		return nil, newErr(KindIntegrity, err.Error())
	}
	sess.Status = Status(statusStr)
	sess.LinearTask = linearTask.String
	sess.Description = description.String
	json.Unmarshal([]byte(tags), &sess.Tags)
	json.Unmarshal([]byte(metadata), &sess.Metadata)
	json.Unmarshal([]byte(projects), &sess.Projects)
	return &sess, nil
}

// searchResult pairs a session with its ranking score for Search.
type searchResult struct {
	session Session
	score   int
}

// Search ranks sessions by 100*name-match + 50*description-match +
// 25*tags-match, breaking ties by updated_at desc.
func (s *Store) Search(query string, filters ListFilters, limit int) ([]Session, error) {
	all, err := s.List(ListOpts{Filters: filters, Limit: 1000})
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var ranked []searchResult
	for _, sess := range all {
		score := 0
		if q != "" {
			if strings.Contains(strings.ToLower(sess.Name), q) {
				score += 100
			}
			if strings.Contains(strings.ToLower(sess.Description), q) {
				score += 50
			}
			for _, tag := range sess.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					score += 25
					break
				}
			}
			if score == 0 {
				continue
			}
		}
		ranked = append(ranked, searchResult{session: sess, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].session.UpdatedAt.After(ranked[j].session.UpdatedAt)
	})

	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]Session, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].session
	}
	return out, nil
}

// Statistics summarizes the catalog.
type Statistics struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	RecentActivity7d int            `json:"recent_activity_7d"`
	DBSizeMB         float64        `json:"db_size_mb"`
}

// Statistics computes totals, per-status counts, sessions updated
// within the last 7 days, and on-disk database size.
func (s *Store) Statistics() (*Statistics, error) {
	stats := &Statistics{ByStatus: make(map[string]int)}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&stats.Total); err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, newErr(KindConnectionError, err.Error())
		}
		stats.ByStatus[status] = count
	}

	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour).Format("2006-01-02T15:04:05.000000Z")
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE updated_at >= ?`, cutoff).Scan(&stats.RecentActivity7d); err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	if err := s.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, newErr(KindConnectionError, err.Error())
	}
	stats.DBSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// MaintenanceOptions selects which maintenance operations to run.
type MaintenanceOptions struct {
	Vacuum         bool
	Analyze        bool
	IntegrityCheck bool
}

// MaintenanceResult reports what Maintenance found/did.
type MaintenanceResult struct {
	Vacuumed       bool
	Analyzed       bool
	IntegrityOK    bool
	IntegrityNotes []string
}

// Maintenance runs the requested opt-in operations.
func (s *Store) Maintenance(opts MaintenanceOptions) (*MaintenanceResult, error) {
	result := &MaintenanceResult{}

	if opts.IntegrityCheck {
		rows, err := s.db.Query(`PRAGMA integrity_check`)
		if err != nil {
			return nil, newErr(KindConnectionError, err.Error())
		}
		var notes []string
		for rows.Next() {
			var note string
			if err := rows.Scan(&note); err != nil {
				rows.Close()
				return nil, newErr(KindConnectionError, err.Error())
			}
			notes = append(notes, note)
		}
		rows.Close()
		result.IntegrityNotes = notes
		result.IntegrityOK = len(notes) == 1 && notes[0] == "ok"
		if !result.IntegrityOK {
			return result, newErr(KindIntegrity, fmt.Sprintf("integrity_check reported: %v", notes))
		}
	}

	if opts.Analyze {
		if _, err := s.db.Exec(`ANALYZE`); err != nil {
			return result, newErr(KindConnectionError, err.Error())
		}
		result.Analyzed = true
	}

	if opts.Vacuum {
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			return result, newErr(KindConnectionError, err.Error())
		}
		result.Vacuumed = true
	}

	return result, nil
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000000Z", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
