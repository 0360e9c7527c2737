package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dronedispatch/core/geo"
	"github.com/kilianp07/dronedispatch/core/model"
	"github.com/kilianp07/dronedispatch/core/requests"
)

// RequestStore implements requests.Store. Insertion order is the seq
// column.
type RequestStore struct {
	db *DB
}

var _ requests.Store = (*RequestStore)(nil)

const requestColumns = `request_id, origin_latlong, dest_latlong, weight, drone_id, curr_status,
    curr_latlong, created_at, updated_at, cancel_sent_at`

func scanRequest(r rowScanner) (model.Request, error) {
	var (
		req              model.Request
		origin, dest     string
		status           string
		pos              sql.NullString
		created, updated int64
		cancelSent       sql.NullInt64
	)
	if err := r.Scan(&req.ID, &origin, &dest, &req.Weight, &req.AssignedDrone, &status,
		&pos, &created, &updated, &cancelSent); err != nil {
		return model.Request{}, err
	}
	var err error
	if req.Origin, err = geo.ParseLatLong(origin); err != nil {
		return model.Request{}, fmt.Errorf("request %s origin: %w", req.ID, err)
	}
	if req.Destination, err = geo.ParseLatLong(dest); err != nil {
		return model.Request{}, fmt.Errorf("request %s destination: %w", req.ID, err)
	}
	if req.CurrentPosition, err = scanPoint(pos); err != nil {
		return model.Request{}, fmt.Errorf("request %s position: %w", req.ID, err)
	}
	req.Status = model.RequestStatus(status)
	req.CreatedAt = fromStamp(created)
	req.UpdatedAt = fromStamp(updated)
	if cancelSent.Valid {
		t := fromStamp(cancelSent.Int64)
		req.CancelSentAt = &t
	}
	return req, nil
}

// Create inserts r unless an active request covers the same route or the
// id is taken.
func (s *RequestStore) Create(ctx context.Context, r model.Request) (model.Request, error) {
	if err := requests.Validate(r); err != nil {
		return model.Request{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.db.stamp()
	origin, dest := r.Origin.String(), r.Destination.String()
	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, origin_latlong, dest_latlong, weight, curr_status, created_at, updated_at)
         SELECT ?, ?, ?, ?, 'pending', ?, ?
         WHERE NOT EXISTS (
             SELECT 1 FROM requests
             WHERE origin_latlong = ? AND dest_latlong = ? AND curr_status NOT IN ('done', 'cancelled'))
         ON CONFLICT(request_id) DO NOTHING`,
		r.ID, origin, dest, r.Weight, now, now, origin, dest)
	if err != nil {
		return model.Request{}, fmt.Errorf("create request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Request{}, err
	}
	if n == 0 {
		return model.Request{}, requests.ErrDuplicate
	}
	return s.Get(ctx, r.ID)
}

func (s *RequestStore) Get(ctx context.Context, id string) (model.Request, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Request{}, requests.ErrUnknownRequest
	}
	return r, err
}

func (s *RequestStore) ListPending(ctx context.Context) ([]model.Request, error) {
	return s.ListByStatus(ctx, model.RequestPending)
}

func (s *RequestStore) ListByStatus(ctx context.Context, st model.RequestStatus) ([]model.Request, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE curr_status = ? ORDER BY seq`, string(st))
	if err != nil {
		return nil, fmt.Errorf("list %s requests: %w", st, err)
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *RequestStore) Assign(ctx context.Context, requestID, droneID string) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE requests SET curr_status = 'assigned', drone_id = ?, updated_at = ?
         WHERE request_id = ? AND curr_status = 'pending'`,
		droneID, s.db.stamp(), requestID)
	if err != nil {
		return fmt.Errorf("assign request %s: %w", requestID, err)
	}
	return s.classify(ctx, res, requestID, requests.ErrRequestNotPending)
}

func (s *RequestStore) UpdatePosition(ctx context.Context, requestID string, p geo.Point) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE requests SET curr_latlong = ? WHERE request_id = ? AND curr_status = 'on_route'`,
		p.String(), requestID)
	if err != nil {
		return fmt.Errorf("update request %s position: %w", requestID, err)
	}
	return s.classify(ctx, res, requestID, nil)
}

func (s *RequestStore) MarkStatus(ctx context.Context, requestID string, st model.RequestStatus) error {
	from := model.Predecessors(st)
	if len(from) == 0 {
		if _, err := s.Get(ctx, requestID); err != nil {
			return err
		}
		return requests.ErrInvalidTransition
	}
	args := []any{string(st), string(st), s.db.stamp(), requestID}
	marks := make([]string, len(from))
	for i, f := range from {
		marks[i] = "?"
		args = append(args, string(f))
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE requests SET
            curr_status = ?,
            drone_id = CASE WHEN ? = 'pending' THEN '' ELSE drone_id END,
            updated_at = ?
         WHERE request_id = ? AND curr_status IN (`+strings.Join(marks, ", ")+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("mark request %s %s: %w", requestID, st, err)
	}
	return s.classify(ctx, res, requestID, requests.ErrInvalidTransition)
}

func (s *RequestStore) MarkCancelSent(ctx context.Context, requestID string, at time.Time) (bool, error) {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE requests SET cancel_sent_at = ?
         WHERE request_id = ? AND curr_status = 'cancelling' AND cancel_sent_at IS NULL`,
		at.UnixNano(), requestID)
	if err != nil {
		return false, fmt.Errorf("mark cancel sent %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	r, err := s.Get(ctx, requestID)
	if err != nil {
		return false, err
	}
	if r.Status != model.RequestCancelling {
		return false, requests.ErrInvalidTransition
	}
	return false, nil
}

// classify turns a conditional update that matched nothing into either
// ErrUnknownRequest or conflict.
func (s *RequestStore) classify(ctx context.Context, res sql.Result, requestID string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := exists(ctx, s.db.db, `SELECT 1 FROM requests WHERE request_id = ?`, requestID)
	if err != nil {
		return err
	}
	if !ok {
		return requests.ErrUnknownRequest
	}
	return conflict
}
