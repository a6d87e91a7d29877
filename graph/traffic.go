package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// InsertTraffic persists traffic entries. Entries without an EdgeID are
// stored unassociated (NULL edge_id) and can be tagged later.
func (s *Store) InsertTraffic(ctx context.Context, entries []TrafficEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO traffic_index (edge_id, proxy_ref_id, method, url, status_code, timestamp_start)
		 VALUES (NULLIF(?, ''), ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("graph: prepare traffic insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		res, err := stmt.ExecContext(ctx,
			e.EdgeID, e.ProxyRefID, e.Method, e.URL, e.StatusCode, e.Timestamp)
		if err != nil {
			return fmt.Errorf("graph: insert traffic: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
	}

	return tx.Commit()
}

// TrafficByEdge returns the traffic entries associated with an edge,
// most recent first.
func (s *Store) TrafficByEdge(ctx context.Context, edgeID string) ([]TrafficEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, COALESCE(edge_id, ''), proxy_ref_id, method, url, status_code, timestamp_start
		 FROM traffic_index WHERE edge_id = ? ORDER BY timestamp_start DESC, id DESC`, edgeID)
	if err != nil {
		return nil, fmt.Errorf("graph: traffic by edge: %w", err)
	}
	defer rows.Close()
	return scanTraffic(rows)
}

// TrafficByNode returns the union of traffic entries across every edge
// whose source is the node — the traffic observed while acting from that
// screen — most recent first.
func (s *Store) TrafficByNode(ctx context.Context, nodeID string) ([]TrafficEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT ti.id, COALESCE(ti.edge_id, ''), ti.proxy_ref_id, ti.method, ti.url, ti.status_code, ti.timestamp_start
		 FROM traffic_index ti
		 JOIN edges e ON ti.edge_id = e.id
		 WHERE e.source_node_id = ?
		 ORDER BY ti.timestamp_start DESC, ti.id DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("graph: traffic by node: %w", err)
	}
	defer rows.Close()
	return scanTraffic(rows)
}

// trafficMaps loads every associated traffic entry grouped by edge and by
// the source node of that edge, for graph snapshots.
func (s *Store) trafficMaps(ctx context.Context) (byNode, byEdge map[string][]TrafficEntry, err error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT ti.id, COALESCE(ti.edge_id, ''), ti.proxy_ref_id, ti.method, ti.url, ti.status_code, ti.timestamp_start,
		        COALESCE(e.source_node_id, '')
		 FROM traffic_index ti
		 LEFT JOIN edges e ON ti.edge_id = e.id`)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: traffic maps: %w", err)
	}
	defer rows.Close()

	byNode = make(map[string][]TrafficEntry)
	byEdge = make(map[string][]TrafficEntry)
	for rows.Next() {
		var e TrafficEntry
		var sourceNode string
		if err := rows.Scan(&e.ID, &e.EdgeID, &e.ProxyRefID, &e.Method, &e.URL,
			&e.StatusCode, &e.Timestamp, &sourceNode); err != nil {
			return nil, nil, fmt.Errorf("graph: scan traffic: %w", err)
		}
		if e.EdgeID != "" {
			byEdge[e.EdgeID] = append(byEdge[e.EdgeID], e)
		}
		if sourceNode != "" {
			byNode[sourceNode] = append(byNode[sourceNode], e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, bucket := range byNode {
		sortTrafficDesc(bucket)
	}
	for _, bucket := range byEdge {
		sortTrafficDesc(bucket)
	}
	return byNode, byEdge, nil
}

func sortTrafficDesc(entries []TrafficEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})
}

func scanTraffic(rows *sql.Rows) ([]TrafficEntry, error) {
	var entries []TrafficEntry
	for rows.Next() {
		var e TrafficEntry
		if err := rows.Scan(&e.ID, &e.EdgeID, &e.ProxyRefID, &e.Method, &e.URL,
			&e.StatusCode, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("graph: scan traffic: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
