package graph

// Schema contains the complete DDL for the appgraph tables.
const Schema = `
-- Nodes: captured application screens
CREATE TABLE IF NOT EXISTS nodes (
    id                        TEXT PRIMARY KEY,
    label                     TEXT NOT NULL DEFAULT '',
    description               TEXT NOT NULL DEFAULT '',
    screenshot_path           TEXT NOT NULL DEFAULT '',
    annotated_screenshot_path TEXT NOT NULL DEFAULT '',
    created_at                INTEGER NOT NULL
);

-- Edges: directed transitions between screens
CREATE TABLE IF NOT EXISTS edges (
    id             TEXT PRIMARY KEY,
    source_node_id TEXT NOT NULL,
    target_node_id TEXT NOT NULL,
    label          TEXT NOT NULL DEFAULT '',
    animated       INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (source_node_id) REFERENCES nodes(id),
    FOREIGN KEY (target_node_id) REFERENCES nodes(id)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_node_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_node_id);

-- Traffic index: observed network requests, tagged to edges by time window
CREATE TABLE IF NOT EXISTS traffic_index (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    edge_id         TEXT,
    proxy_ref_id    TEXT NOT NULL DEFAULT '',
    method          TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    status_code     INTEGER NOT NULL DEFAULT 0,
    timestamp_start REAL NOT NULL DEFAULT 0,
    FOREIGN KEY (edge_id) REFERENCES edges(id)
);
CREATE INDEX IF NOT EXISTS idx_traffic_edge ON traffic_index(edge_id);
CREATE INDEX IF NOT EXISTS idx_traffic_time ON traffic_index(timestamp_start);

-- Parser outputs: reconciled element list + screen state per node
CREATE TABLE IF NOT EXISTS parser_outputs (
    node_id      TEXT PRIMARY KEY,
    elements     TEXT NOT NULL DEFAULT '[]',
    screen_state TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (node_id) REFERENCES nodes(id)
);
`
