package postgresql

// migrations returns the ordered schema migrations for the flowkit tables.
// Every table carries tenant_id; queries must always filter on it.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS orders (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				system_order_id TEXT NOT NULL,
				status TEXT NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				needs_attention BOOLEAN NOT NULL DEFAULT FALSE,
				notes JSONB NOT NULL DEFAULT '[]',
				source TEXT NOT NULL DEFAULT '',
				external_order_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (tenant_id, system_order_id)
			);

			CREATE INDEX IF NOT EXISTS idx_orders_tenant
				ON orders (tenant_id);
			CREATE INDEX IF NOT EXISTS idx_orders_tenant_phone
				ON orders (tenant_id, (data->>'customer_phone'));

			CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				customer_phone TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (tenant_id, customer_phone)
			);

			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				conversation_id UUID NOT NULL REFERENCES conversations(id),
				direction TEXT NOT NULL,
				text TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_conversation
				ON messages (tenant_id, conversation_id, created_at);

			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS workflow_versions (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflow_definitions(id),
				version INTEGER NOT NULL,
				definition JSONB NOT NULL,
				is_published BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (tenant_id, workflow_id, version)
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_one_published_per_tenant
				ON workflow_versions (tenant_id)
				WHERE is_published;

			CREATE TABLE IF NOT EXISTS workflow_runs (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				workflow_version_id UUID NOT NULL REFERENCES workflow_versions(id),
				order_id UUID,
				conversation_id UUID,
				current_state TEXT NOT NULL,
				status TEXT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_runs_tenant_order
				ON workflow_runs (tenant_id, order_id);

			CREATE TABLE IF NOT EXISTS timers (
				id UUID PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				workflow_run_id UUID NOT NULL REFERENCES workflow_runs(id),
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				purpose TEXT NOT NULL,
				status TEXT NOT NULL,
				fired_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_timers_due
				ON timers (status, fire_at);

			CREATE TABLE IF NOT EXISTS tenant_settings (
				tenant_id TEXT PRIMARY KEY,
				ai_api_key TEXT NOT NULL DEFAULT '',
				oracle_mode TEXT NOT NULL DEFAULT 'permissive',
				llm_endpoint TEXT NOT NULL DEFAULT '',
				llm_model TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS order_counters (
				tenant_id TEXT PRIMARY KEY,
				n BIGINT NOT NULL DEFAULT 0
			);
		`,
	}
}
