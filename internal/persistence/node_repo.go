package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meshreplier/internal/domain"
	"meshreplier/internal/mesh"
)

const nodeColumns = `node_num, long_name, short_name, battery_level, voltage, temperature, humidity, pressure,
	latitude, longitude, altitude, rssi, snr, last_heard_at, updated_at`

type NodeRepo struct {
	db *sql.DB
}

func NewNodeRepo(db *sql.DB) *NodeRepo {
	return &NodeRepo{db: db}
}

// Upsert stores n. Empty names and nil measurements keep the stored values.
func (r *NodeRepo) Upsert(ctx context.Context, n domain.Node) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes(`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_num) DO UPDATE SET
			long_name = CASE WHEN excluded.long_name != '' THEN excluded.long_name ELSE nodes.long_name END,
			short_name = CASE WHEN excluded.short_name != '' THEN excluded.short_name ELSE nodes.short_name END,
			battery_level = COALESCE(excluded.battery_level, nodes.battery_level),
			voltage = COALESCE(excluded.voltage, nodes.voltage),
			temperature = COALESCE(excluded.temperature, nodes.temperature),
			humidity = COALESCE(excluded.humidity, nodes.humidity),
			pressure = COALESCE(excluded.pressure, nodes.pressure),
			latitude = COALESCE(excluded.latitude, nodes.latitude),
			longitude = COALESCE(excluded.longitude, nodes.longitude),
			altitude = COALESCE(excluded.altitude, nodes.altitude),
			rssi = COALESCE(excluded.rssi, nodes.rssi),
			snr = COALESCE(excluded.snr, nodes.snr),
			last_heard_at = MAX(excluded.last_heard_at, nodes.last_heard_at),
			updated_at = excluded.updated_at
	`, int64(n.NodeID), n.LongName, n.ShortName, n.BatteryLevel, n.Voltage, n.Temperature, n.Humidity, n.Pressure,
		n.Latitude, n.Longitude, n.Altitude, n.RSSI, n.SNR, toUnixMillis(n.LastHeardAt), toUnixMillis(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.NodeID, err)
	}

	return nil
}

// Get implements domain.NodeLookup.
func (r *NodeRepo) Get(ctx context.Context, id mesh.NodeID) (domain.Node, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE node_num = ?`, int64(id))
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, false, nil
	}
	if err != nil {
		return domain.Node{}, false, fmt.Errorf("get node %s: %w", id, err)
	}

	return n, true, nil
}

func (r *NodeRepo) ListSortedByLastHeard(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY last_heard_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (domain.Node, error) {
	var (
		n           domain.Node
		num         int64
		heardMs     int64
		updMs       int64
		battery     sql.NullInt64
		voltage     sql.NullFloat64
		temperature sql.NullFloat64
		humidity    sql.NullFloat64
		pressure    sql.NullFloat64
		latitude    sql.NullFloat64
		longitude   sql.NullFloat64
		altitude    sql.NullInt64
		rssi        sql.NullInt64
		snr         sql.NullFloat64
	)
	if err := row.Scan(&num, &n.LongName, &n.ShortName, &battery, &voltage, &temperature, &humidity, &pressure,
		&latitude, &longitude, &altitude, &rssi, &snr, &heardMs, &updMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Node{}, err
		}

		return domain.Node{}, fmt.Errorf("scan node: %w", err)
	}

	n.NodeID = mesh.NodeID(uint32(num))
	n.LastHeardAt = fromUnixMillis(heardMs)
	n.UpdatedAt = fromUnixMillis(updMs)
	if battery.Valid {
		v := uint32(battery.Int64)
		n.BatteryLevel = &v
	}
	n.Voltage = nullFloat(voltage)
	n.Temperature = nullFloat(temperature)
	n.Humidity = nullFloat(humidity)
	n.Pressure = nullFloat(pressure)
	n.Latitude = nullFloat(latitude)
	n.Longitude = nullFloat(longitude)
	if altitude.Valid {
		v := int32(altitude.Int64)
		n.Altitude = &v
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		n.RSSI = &v
	}
	n.SNR = nullFloat(snr)

	return n, nil
}
