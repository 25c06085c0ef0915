/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

// schema is applied at open. Statements are idempotent; there is no
// migration framework because the control plane is single-writer.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL DEFAULT 'student',
	role_override INTEGER NOT NULL DEFAULT 0,
	external_id   TEXT UNIQUE,
	auth_provider TEXT NOT NULL DEFAULT 'local',
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS deployments (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	stack         TEXT NOT NULL,
	namespace     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	created_at    TIMESTAMP NOT NULL,
	last_seen_at  TIMESTAMP,
	deleted_at    TIMESTAMP,
	expires_at    TIMESTAMP,
	cpu_requested  INTEGER NOT NULL DEFAULT 0,
	mem_requested  INTEGER NOT NULL DEFAULT 0,
	pods_requested INTEGER NOT NULL DEFAULT 1,
	UNIQUE (namespace, name)
);
CREATE INDEX IF NOT EXISTS idx_deployments_user_status ON deployments(user_id, status);
CREATE INDEX IF NOT EXISTS idx_deployments_expires ON deployments(status, expires_at);

CREATE TABLE IF NOT EXISTS user_quota_overrides (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	max_apps       INTEGER,
	max_cpu_millis INTEGER,
	max_mem_mi     INTEGER,
	max_storage_gi INTEGER,
	expires_at     TIMESTAMP,
	created_at     TIMESTAMP NOT NULL,
	created_by     INTEGER
);

CREATE TABLE IF NOT EXISTS templates (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	key                  TEXT NOT NULL UNIQUE,
	display_name         TEXT NOT NULL,
	image                TEXT NOT NULL,
	port                 INTEGER NOT NULL,
	service_type         TEXT NOT NULL DEFAULT 'NodePort',
	tags                 TEXT NOT NULL DEFAULT '',
	active               INTEGER NOT NULL DEFAULT 1,
	allowed_for_students INTEGER NOT NULL DEFAULT 1,
	created_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runtime_configs (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	key                   TEXT NOT NULL UNIQUE,
	min_cpu_request_millis INTEGER NOT NULL DEFAULT 0,
	min_cpu_limit_millis   INTEGER NOT NULL DEFAULT 0,
	min_mem_request_mi     INTEGER NOT NULL DEFAULT 0,
	min_mem_limit_mi       INTEGER NOT NULL DEFAULT 0,
	active                INTEGER NOT NULL DEFAULT 1,
	created_at            TIMESTAMP NOT NULL
);
`
