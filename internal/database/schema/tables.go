package schema

// TableDefinitions contains all the SQL statements to create the database tables.
// Don't put REFERENCES and don't put CHECK constraints in the CREATE TABLE statements
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		first_name VARCHAR(255),
		last_name VARCHAR(255),
		email VARCHAR(255),
		phone VARCHAR(50),
		company_name VARCHAR(255),
		address VARCHAR(255),
		city VARCHAR(100),
		state VARCHAR(100),
		postal_code VARCHAR(20),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		opted_out BOOLEAN NOT NULL DEFAULT FALSE,
		marketing_subscribed BOOLEAN NOT NULL DEFAULT TRUE,
		email_validation_status VARCHAR(20),
		survey_outcome VARCHAR(50),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS policies (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL,
		lob VARCHAR(100),
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		effective_date DATE,
		expiration_date DATE,
		term VARCHAR(50),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS automations (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		send_time VARCHAR(5),
		timezone VARCHAR(50),
		filter JSONB,
		nodes JSONB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS email_templates (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64),
		default_key VARCHAR(100),
		name VARCHAR(255) NOT NULL,
		subject TEXT,
		body_html TEXT,
		body_text TEXT,
		from_email VARCHAR(255),
		from_name VARCHAR(255),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_emails (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		automation_id UUID,
		batch_id UUID,
		account_id UUID NOT NULL,
		template_id UUID NOT NULL,
		to_email VARCHAR(255) NOT NULL,
		to_name VARCHAR(255),
		from_email VARCHAR(255),
		from_name VARCHAR(255),
		subject TEXT,
		scheduled_for TIMESTAMP NOT NULL,
		status VARCHAR(20) NOT NULL,
		requires_verification BOOLEAN NOT NULL DEFAULT FALSE,
		qualification_value VARCHAR(255) NOT NULL DEFAULT '',
		trigger_field VARCHAR(100),
		node_id VARCHAR(64),
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_attempt_at TIMESTAMP,
		error_message TEXT,
		email_log_id UUID,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		scheduled_email_id UUID,
		automation_id UUID,
		account_id UUID,
		template_id UUID,
		to_email VARCHAR(255) NOT NULL,
		from_email VARCHAR(255),
		from_name VARCHAR(255),
		reply_to VARCHAR(255),
		subject TEXT,
		body_html TEXT,
		body_text TEXT,
		status VARCHAR(20) NOT NULL,
		use_tracking_reply BOOLEAN NOT NULL DEFAULT FALSE,
		sendgrid_message_id VARCHAR(255),
		message_id VARCHAR(255),
		error_message TEXT,
		sent_at TIMESTAMP,
		failed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		owner_id VARCHAR(64) PRIMARY KEY,
		from_email VARCHAR(255),
		from_name VARCHAR(255),
		reply_to_email VARCHAR(255),
		signature_html TEXT,
		agency_name VARCHAR(255),
		agency_address VARCHAR(255),
		agency_phone VARCHAR(50),
		agency_website VARCHAR(255),
		google_review_link VARCHAR(512),
		default_send_time VARCHAR(5),
		timezone VARCHAR(50),
		daily_send_limit INTEGER,
		preferences JSONB,
		trial_started_at TIMESTAMP,
		trial_ends_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sender_domains (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		domain VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		inbound_parse_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		inbound_subdomain VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255),
		name VARCHAR(255),
		profile_name VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS email_provider_connections (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		provider VARCHAR(50),
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS unsubscribes (
		email VARCHAR(255) PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS activity_log (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		account_id UUID NOT NULL,
		kind VARCHAR(50) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_accounts_owner_id ON accounts (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts (LOWER(email))`,
	`CREATE INDEX IF NOT EXISTS idx_policies_account_id ON policies (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_policies_expiration_date ON policies (expiration_date)`,
	`CREATE INDEX IF NOT EXISTS idx_automations_owner_id ON automations (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_templates_default_key ON email_templates (default_key)`,
	// Planner idempotence relies on ON CONFLICT DO NOTHING against this
	// index: one live row per automation/account/template/qualification.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduled_emails_dedup
		ON scheduled_emails (automation_id, account_id, template_id, qualification_value)
		WHERE status != 'cancelled'`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_status_scheduled_for ON scheduled_emails (status, scheduled_for)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_automation_id ON scheduled_emails (automation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_emails_account_id ON scheduled_emails (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_template_recipient ON email_logs (template_id, LOWER(to_email))`,
	`CREATE INDEX IF NOT EXISTS idx_email_logs_account_sent_at ON email_logs (account_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sender_domains_owner_domain ON sender_domains (owner_id, LOWER(domain))`,
	`CREATE INDEX IF NOT EXISTS idx_users_profile_name ON users (profile_name)`,
	`CREATE INDEX IF NOT EXISTS idx_email_provider_connections_owner_id ON email_provider_connections (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_log_account_id ON activity_log (account_id)`,
}

// TableNames lists the tables in creation order, used by CleanDatabase.
var TableNames = []string{
	"accounts",
	"policies",
	"automations",
	"email_templates",
	"scheduled_emails",
	"email_logs",
	"user_settings",
	"sender_domains",
	"users",
	"email_provider_connections",
	"unsubscribes",
	"activity_log",
}
