package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE templates (
				id UUID PRIMARY KEY,
				account_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				finalizable BOOLEAN NOT NULL DEFAULT false,
				owners TEXT[] NOT NULL DEFAULT '{}',
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_templates_account_active ON templates(account_id, is_active);

			CREATE TABLE template_versions (
				template_id UUID NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
				version INT NOT NULL,
				snapshot JSONB NOT NULL,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (template_id, version)
			);
		`,
		2: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				template_id UUID NOT NULL REFERENCES templates(id),
				account_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'delayed', 'done', 'terminated')),
				current_task INT NOT NULL,
				starter_id VARCHAR(255) NOT NULL,
				owners TEXT[] NOT NULL DEFAULT '{}',
				members TEXT[] NOT NULL DEFAULT '{}',
				finalizable BOOLEAN NOT NULL DEFAULT false,
				fields JSONB NOT NULL DEFAULT '{}',
				date_started TIMESTAMP WITH TIME ZONE NOT NULL,
				date_completed TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_template_version ON workflows(template_id, version);
			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				api_name VARCHAR(255) NOT NULL,
				number INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'skipped', 'delayed')),
				definition JSONB NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE,
				date_started TIMESTAMP WITH TIME ZONE,
				date_resumed TIMESTAMP WITH TIME ZONE,
				date_completed TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, api_name)
			);

			CREATE INDEX idx_tasks_workflow_id ON tasks(workflow_id);

			CREATE TABLE task_performers (
				task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				user_id VARCHAR(255) NOT NULL,
				directly_status VARCHAR(20) NOT NULL CHECK (directly_status IN ('auto', 'created', 'deleted')),
				is_completed BOOLEAN NOT NULL DEFAULT false,
				date_completed TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (task_id, user_id)
			);

			CREATE TABLE delays (
				id UUID PRIMARY KEY,
				task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
				start_date TIMESTAMP WITH TIME ZONE NOT NULL,
				duration_ms BIGINT NOT NULL,
				end_date TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_delays_one_active ON delays(task_id) WHERE end_date IS NULL;
			CREATE INDEX idx_delays_open ON delays(start_date) WHERE end_date IS NULL;
		`,
	}
}
