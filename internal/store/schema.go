package store

type tableDDL struct {
	table string
	sql   string
}

// sqliteSchema creates every table. Natural keys are UNIQUE constraints.
var sqliteSchema = []tableDDL{
	{"worklogs", `
CREATE TABLE IF NOT EXISTS worklogs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issue_key TEXT NOT NULL,
    user_name TEXT NOT NULL,
    project_key TEXT NOT NULL,
    hours REAL NOT NULL CHECK (hours >= 0),
    work_date TEXT NOT NULL,  -- YYYY-MM-DD
    description TEXT,
    updated_at TEXT NOT NULL,
    UNIQUE(issue_key, user_name, work_date)
);`},
	{"jira_users", `
CREATE TABLE IF NOT EXISTS jira_users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_key TEXT NOT NULL UNIQUE,
    user_name TEXT NOT NULL UNIQUE,
    display_name TEXT,
    email TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_sync TEXT NOT NULL
);`},
	{"users", `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_name TEXT NOT NULL UNIQUE,
    display_name TEXT,
    email TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    role TEXT NOT NULL DEFAULT 'user',
    password_hash TEXT NOT NULL DEFAULT '',
    is_protected INTEGER NOT NULL DEFAULT 0
);`},
	{"protected_accounts", `
CREATE TABLE IF NOT EXISTS protected_accounts (
    user_name TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    protected_at TEXT NOT NULL
);`},
	{"jira_sync_history", `
CREATE TABLE IF NOT EXISTS jira_sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sync_type TEXT NOT NULL,
    status TEXT NOT NULL,
    items_processed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT
);`},
	{"projects", `
CREATE TABLE IF NOT EXISTS projects (
    project_key TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    lead_name TEXT,
    last_sync TEXT NOT NULL
);`},
	{"leave_balances", `
CREATE TABLE IF NOT EXISTS leave_balances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    year INTEGER NOT NULL,
    total_days REAL NOT NULL DEFAULT 26,
    used_days REAL NOT NULL DEFAULT 0,
    pending_days REAL NOT NULL DEFAULT 0,
    carried_over REAL NOT NULL DEFAULT 0,
    UNIQUE(user_id, year)
);`},
	{"change_history", `
CREATE TABLE IF NOT EXISTS change_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_name TEXT NOT NULL,
    record_key TEXT NOT NULL,
    field TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    changed_by TEXT NOT NULL,
    changed_at TEXT NOT NULL
);`},
	{"allocations", `
CREATE TABLE IF NOT EXISTS allocations (
    user_name TEXT NOT NULL,
    month TEXT NOT NULL,  -- YYYY-MM
    planned_hours REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (user_name, month)
);`},
	{"project_assignments", `
CREATE TABLE IF NOT EXISTS project_assignments (
    user_name TEXT NOT NULL,
    project_key TEXT NOT NULL,
    PRIMARY KEY (user_name, project_key)
);`},
	{"user_unavailability", `
CREATE TABLE IF NOT EXISTS user_unavailability (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_name TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    reason TEXT
);`},
}

// mysqlSchema mirrors sqliteSchema. Indexed text columns are VARCHAR and
// each statement runs on its own since multi-statements are disabled.
var mysqlSchema = []tableDDL{
	{"worklogs", `
CREATE TABLE IF NOT EXISTS worklogs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    issue_key VARCHAR(255) NOT NULL,
    user_name VARCHAR(255) NOT NULL,
    project_key VARCHAR(255) NOT NULL,
    hours DOUBLE NOT NULL,
    work_date CHAR(10) NOT NULL,
    description TEXT,
    updated_at VARCHAR(32) NOT NULL,
    UNIQUE KEY uq_worklogs_natural (issue_key, user_name, work_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"jira_users", `
CREATE TABLE IF NOT EXISTS jira_users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    account_key VARCHAR(255) NOT NULL UNIQUE,
    user_name VARCHAR(255) NOT NULL UNIQUE,
    display_name VARCHAR(255),
    email VARCHAR(255),
    is_active TINYINT NOT NULL DEFAULT 1,
    last_sync VARCHAR(32) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"users", `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_name VARCHAR(255) NOT NULL UNIQUE,
    display_name VARCHAR(255),
    email VARCHAR(255),
    is_active TINYINT NOT NULL DEFAULT 1,
    role VARCHAR(32) NOT NULL DEFAULT 'user',
    password_hash VARCHAR(255) NOT NULL DEFAULT '',
    is_protected TINYINT NOT NULL DEFAULT 0
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"protected_accounts", `
CREATE TABLE IF NOT EXISTS protected_accounts (
    user_name VARCHAR(255) PRIMARY KEY,
    role VARCHAR(32) NOT NULL,
    password_hash VARCHAR(255) NOT NULL,
    protected_at VARCHAR(32) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"jira_sync_history", `
CREATE TABLE IF NOT EXISTS jira_sync_history (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    sync_type VARCHAR(32) NOT NULL,
    status VARCHAR(32) NOT NULL,
    items_processed INT NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at VARCHAR(32) NOT NULL,
    completed_at VARCHAR(32)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"projects", `
CREATE TABLE IF NOT EXISTS projects (
    project_key VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    lead_name VARCHAR(255),
    last_sync VARCHAR(32) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"leave_balances", `
CREATE TABLE IF NOT EXISTS leave_balances (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    year INT NOT NULL,
    total_days DOUBLE NOT NULL DEFAULT 26,
    used_days DOUBLE NOT NULL DEFAULT 0,
    pending_days DOUBLE NOT NULL DEFAULT 0,
    carried_over DOUBLE NOT NULL DEFAULT 0,
    UNIQUE KEY uq_leave_user_year (user_id, year),
    CONSTRAINT fk_leave_user FOREIGN KEY (user_id) REFERENCES users(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"change_history", `
CREATE TABLE IF NOT EXISTS change_history (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    table_name VARCHAR(64) NOT NULL,
    record_key VARCHAR(255) NOT NULL,
    field VARCHAR(64) NOT NULL,
    old_value TEXT,
    new_value TEXT,
    changed_by VARCHAR(255) NOT NULL,
    changed_at VARCHAR(32) NOT NULL,
    KEY idx_change_record (table_name, record_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"allocations", `
CREATE TABLE IF NOT EXISTS allocations (
    user_name VARCHAR(255) NOT NULL,
    month CHAR(7) NOT NULL,
    planned_hours DOUBLE NOT NULL DEFAULT 0,
    PRIMARY KEY (user_name, month)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"project_assignments", `
CREATE TABLE IF NOT EXISTS project_assignments (
    user_name VARCHAR(255) NOT NULL,
    project_key VARCHAR(255) NOT NULL,
    PRIMARY KEY (user_name, project_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"user_unavailability", `
CREATE TABLE IF NOT EXISTS user_unavailability (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_name VARCHAR(255) NOT NULL,
    start_date CHAR(10) NOT NULL,
    end_date CHAR(10) NOT NULL,
    reason VARCHAR(255)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}
