package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kilianp07/dronedispatch/core/fleet"
	"github.com/kilianp07/dronedispatch/core/model"
)

// FleetStore implements fleet.Store.
type FleetStore struct {
	db *DB
}

var _ fleet.Store = (*FleetStore)(nil)

const droneColumns = `drone_id, curr_latlong, curr_battery, curr_status, curr_request_id, updated_at`

func scanDrone(r rowScanner) (model.Drone, error) {
	var (
		d       model.Drone
		latlong sql.NullString
		battery sql.NullFloat64
		status  string
		updated int64
	)
	if err := r.Scan(&d.ID, &latlong, &battery, &status, &d.CurrentRequest, &updated); err != nil {
		return model.Drone{}, err
	}
	pos, err := scanPoint(latlong)
	if err != nil {
		return model.Drone{}, fmt.Errorf("drone %s position: %w", d.ID, err)
	}
	d.Position = pos
	if battery.Valid {
		b := battery.Float64
		d.Battery = &b
	}
	d.Status = model.DroneStatus(status)
	d.UpdatedAt = fromStamp(updated)
	return d, nil
}

func (s *FleetStore) Register(ctx context.Context, droneID string) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO drones (drone_id, curr_status, updated_at) VALUES (?, 'idle', ?)
         ON CONFLICT(drone_id) DO NOTHING`, droneID, s.db.stamp())
	if err != nil {
		return fmt.Errorf("register drone %s: %w", droneID, err)
	}
	return nil
}

// UpsertTelemetry applies the same rule as fleet.ApplyReport in one
// statement.
func (s *FleetStore) UpsertTelemetry(ctx context.Context, droneID string, rep model.Report) (model.Drone, error) {
	row := s.db.db.QueryRowContext(ctx,
		`UPDATE drones SET
            curr_latlong = COALESCE(?, curr_latlong),
            curr_battery = COALESCE(?, curr_battery),
            curr_status = CASE WHEN ? = 'idle' AND curr_request_id <> '' THEN 'on_route' ELSE ? END,
            updated_at = ?
         WHERE drone_id = ?
         RETURNING `+droneColumns,
		pointArg(rep.Position), floatArg(rep.Battery), string(rep.Status), string(rep.Status),
		s.db.stamp(), droneID)
	d, err := scanDrone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Drone{}, fleet.ErrUnknownDrone
	}
	if err != nil {
		return model.Drone{}, fmt.Errorf("upsert drone %s: %w", droneID, err)
	}
	return d, nil
}

func (s *FleetStore) ListIdle(ctx context.Context) ([]model.IdleDrone, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT `+droneColumns+` FROM drones
         WHERE curr_status = 'idle' AND curr_request_id = '' ORDER BY drone_id`)
	if err != nil {
		return nil, fmt.Errorf("list idle drones: %w", err)
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.IdleDrone, 0)
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, model.IdleDrone{ID: d.ID, Position: d.Position})
	}
	return res, rows.Err()
}

func (s *FleetStore) MarkBusy(ctx context.Context, droneID, requestID string) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE drones SET curr_status = 'on_route', curr_request_id = ?, updated_at = ?
         WHERE drone_id = ? AND curr_status = 'idle' AND curr_request_id = ''`,
		requestID, s.db.stamp(), droneID)
	if err != nil {
		return fmt.Errorf("mark drone %s busy: %w", droneID, err)
	}
	return s.classify(ctx, res, droneID, fleet.ErrDroneNotIdle)
}

func (s *FleetStore) Release(ctx context.Context, droneID, requestID string) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE drones SET
            curr_request_id = '',
            curr_status = CASE WHEN curr_status = 'offline' THEN 'offline' ELSE 'idle' END,
            updated_at = ?
         WHERE drone_id = ? AND curr_request_id <> '' AND curr_request_id = ?`,
		s.db.stamp(), droneID, requestID)
	if err != nil {
		return fmt.Errorf("release drone %s: %w", droneID, err)
	}
	return s.classify(ctx, res, droneID, fleet.ErrNotReserved)
}

// classify turns a conditional update that matched nothing into either
// ErrUnknownDrone or conflict.
func (s *FleetStore) classify(ctx context.Context, res sql.Result, droneID string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := exists(ctx, s.db.db, `SELECT 1 FROM drones WHERE drone_id = ?`, droneID)
	if err != nil {
		return err
	}
	if !ok {
		return fleet.ErrUnknownDrone
	}
	return conflict
}

func (s *FleetStore) Get(ctx context.Context, droneID string) (model.Drone, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+droneColumns+` FROM drones WHERE drone_id = ?`, droneID)
	d, err := scanDrone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Drone{}, fleet.ErrUnknownDrone
	}
	return d, err
}

func (s *FleetStore) List(ctx context.Context) ([]model.Drone, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT `+droneColumns+` FROM drones ORDER BY drone_id`)
	if err != nil {
		return nil, fmt.Errorf("list drones: %w", err)
	}
	defer func() { _ = rows.Close() }()
	res := make([]model.Drone, 0)
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
