package postgres

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		hall_ticket VARCHAR(20) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		college_code VARCHAR(10),
		regulation VARCHAR(10),
		year VARCHAR(10),
		semester VARCHAR(64),
		status VARCHAR(20),
		sgpa DECIMAL(4, 2),
		cgpa DECIMAL(4, 2),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		subject_code VARCHAR(50) PRIMARY KEY,
		subject_name VARCHAR(255) NOT NULL,
		credits DECIMAL(3, 1)
	)`,
	`CREATE TABLE IF NOT EXISTS marks (
		id SERIAL PRIMARY KEY,
		hall_ticket VARCHAR(20) NOT NULL REFERENCES students(hall_ticket),
		subject_code VARCHAR(50) NOT NULL,
		internal VARCHAR(10),
		external VARCHAR(10),
		total VARCHAR(10),
		grade VARCHAR(5),
		grade_points DECIMAL(3, 1),
		credits DECIMAL(3, 1),
		UNIQUE (hall_ticket, subject_code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_college ON students (college_code)`,
	`CREATE INDEX IF NOT EXISTS idx_marks_hall_ticket ON marks (hall_ticket)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id VARCHAR(36) PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		exam_code VARCHAR(16) NOT NULL,
		profile VARCHAR(64),
		range_start TEXT,
		range_end TEXT,
		width INTEGER NOT NULL DEFAULT 0,
		total TEXT NOT NULL,
		chunk_size TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		chunks_done INTEGER NOT NULL DEFAULT 0,
		stats JSONB NOT NULL DEFAULT '{}',
		chunk_errors JSONB NOT NULL DEFAULT '[]',
		submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE,
		finished_at TIMESTAMP WITH TIME ZONE
	)`,
}
