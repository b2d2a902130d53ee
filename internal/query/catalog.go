package query

import "github.com/rileyhilliard/chdig/internal/transport"

// SelfQueryPrefix prefixes the query id of every query chdig issues, so the
// processes view can hide them.
const SelfQueryPrefix = "chdig-"

// KillQueryText cancels one query by id. The server answers once the kill is
// scheduled; it does not wait for the query to stop.
const KillQueryText = `KILL QUERY WHERE query_id = @query_id ASYNC`

const processesColumns = `
	hostName() AS host_name,
	query_id,
	user,
	ProfileEvents['OSCPUVirtualTimeMicroseconds'] AS cpu,
	ProfileEvents['ReadBufferFromFileDescriptorReadBytes'] AS disk_io,
	ProfileEvents['NetworkReceiveBytes'] + ProfileEvents['NetworkSendBytes'] AS net_io,
	length(thread_ids) AS threads,
	peak_memory_usage AS memory,
	normalizeQuery(query) AS query`

const processesFilter = `
FROM system.processes
WHERE query_id NOT LIKE '` + SelfQueryPrefix + `%'`

// Processes lists running queries.
var Processes = MustTemplate(Spec{
	Name:  "processes",
	Title: "Queries",
	Text:  "SELECT" + processesColumns + ",\n\telapsed" + processesFilter,
	// elapsed is wrong on these servers, derive it from the start time.
	Variants: map[transport.Quirk]string{
		transport.QuirkProcessedElapsed: "SELECT" + processesColumns + `,
	(toUnixTimestamp64Micro(now64(6)) - toUnixTimestamp64Micro(query_start_time_microseconds)) / 1e6 AS elapsed` + processesFilter,
	},
	Columns: []Column{
		Key("query_id"),
		Label("host_name").Titled("host"),
		Label("user"),
		Metric("elapsed", UnitSeconds),
		Metric("cpu", UnitMicroseconds),
		Metric("memory", UnitBytes),
		Metric("disk_io", UnitBytes).Titled("disk"),
		Metric("net_io", UnitBytes).Titled("net"),
		Metric("threads", UnitCount),
		Label("query"),
	},
	Order: ByMetricDesc("elapsed"),
})

const queryLogColumns = `SELECT
	hostName() AS host_name,
	query_id,
	user,
	toUnixTimestamp(event_time) AS event_time,
	query_duration_ms / 1e3 AS duration,
	memory_usage AS memory,
	ProfileEvents['OSCPUVirtualTimeMicroseconds'] AS cpu,
	read_rows,
	read_bytes,
	written_rows,
	result_rows,
	toString(type) AS type,
	normalizeQuery(query) AS query
FROM system.query_log
WHERE event_date >= toDate(@start) AND event_time >= @start AND event_time < @end
	AND type != 'QueryStart'`

var queryLogSchema = []Column{
	Key("query_id"),
	Label("host_name").Titled("host"),
	Label("user"),
	Metric("event_time", UnitTimestamp).Titled("time"),
	Metric("duration", UnitSeconds),
	Metric("cpu", UnitMicroseconds),
	Metric("memory", UnitBytes),
	Metric("read_rows", UnitCount),
	Metric("read_bytes", UnitBytes),
	Metric("written_rows", UnitCount),
	Metric("result_rows", UnitCount),
	Label("type"),
	Label("query"),
}

// SlowQueries lists finished queries slower than one second in the window.
var SlowQueries = MustTemplate(Spec{
	Name:     "slow_queries",
	Title:    "Slow queries",
	Text:     queryLogColumns + "\n\tAND query_duration_ms > 1000\nORDER BY query_duration_ms DESC\nLIMIT 1000",
	Columns:  queryLogSchema,
	Order:    ByMetricDesc("duration"),
	Windowed: true,
})

// LastQueries lists the most recent finished queries in the window.
var LastQueries = MustTemplate(Spec{
	Name:     "last_queries",
	Title:    "Last queries",
	Text:     queryLogColumns + "\nORDER BY event_time DESC\nLIMIT 1000",
	Columns:  queryLogSchema,
	Order:    ByMetricDesc("event_time"),
	Windowed: true,
})

// Merges lists running merges and mutations of parts.
var Merges = MustTemplate(Spec{
	Name:  "merges",
	Title: "Merges",
	Text: `SELECT
	database,
	table,
	result_part_name AS part,
	elapsed,
	progress,
	num_parts AS parts,
	is_mutation AS mutation,
	total_size_bytes_compressed AS size,
	rows_read,
	rows_written,
	memory_usage AS memory
FROM system.merges`,
	Columns: []Column{
		Key("database"),
		Key("table"),
		Key("part"),
		Metric("elapsed", UnitSeconds),
		Metric("progress", UnitPercent),
		Metric("parts", UnitCount),
		Label("mutation"),
		Metric("size", UnitBytes),
		Metric("rows_read", UnitCount),
		Metric("rows_written", UnitCount),
		Metric("memory", UnitBytes),
	},
	Order: ByMetricDesc("elapsed"),
})

// Mutations lists unfinished mutations.
var Mutations = MustTemplate(Spec{
	Name:  "mutations",
	Title: "Mutations",
	Text: `SELECT
	database,
	table,
	mutation_id,
	command,
	toUnixTimestamp(create_time) AS create_time,
	parts_to_do AS parts,
	latest_fail_reason,
	toUnixTimestamp(latest_fail_time) AS latest_fail_time
FROM system.mutations
WHERE is_done = 0`,
	Columns: []Column{
		Key("database"),
		Key("table"),
		Key("mutation_id"),
		Label("command"),
		Metric("create_time", UnitTimestamp).Titled("created"),
		Metric("parts", UnitCount),
		Metric("latest_fail_time", UnitTimestamp).Titled("failed"),
		Label("latest_fail_reason").Titled("reason"),
	},
	Order: Then(ByMetricDesc("latest_fail_time"), ByMetricAsc("create_time")),
})

// ReplicationQueue lists pending replication tasks.
var ReplicationQueue = MustTemplate(Spec{
	Name:  "replication_queue",
	Title: "Replication queue",
	Text: `SELECT
	database,
	table,
	type,
	new_part_name AS part,
	toUnixTimestamp(create_time) AS create_time,
	is_currently_executing AS executing,
	num_tries AS tries,
	last_exception AS exception,
	num_postponed AS postponed,
	postpone_reason AS reason
FROM system.replication_queue`,
	Columns: []Column{
		Key("database"),
		Key("table"),
		Key("type"),
		Key("part"),
		Metric("create_time", UnitTimestamp).Titled("created"),
		Label("executing"),
		Metric("tries", UnitCount),
		Metric("postponed", UnitCount),
		Label("exception"),
		Label("reason"),
	},
	Order: ByMetricDesc("tries"),
})

// ReplicatedFetches lists parts being fetched from other replicas.
var ReplicatedFetches = MustTemplate(Spec{
	Name:  "replicated_fetches",
	Title: "Fetches",
	Text: `SELECT
	database,
	table,
	result_part_name AS part,
	elapsed,
	progress,
	total_size_bytes_compressed AS size,
	bytes_read_compressed AS bytes
FROM system.replicated_fetches`,
	Columns: []Column{
		Key("database"),
		Key("table"),
		Key("part"),
		Metric("elapsed", UnitSeconds),
		Metric("progress", UnitPercent),
		Metric("size", UnitBytes),
		Metric("bytes", UnitBytes).Titled("read"),
	},
	Order: ByMetricDesc("elapsed"),
})

// Replicas lists replicated tables and their lag.
var Replicas = MustTemplate(Spec{
	Name:  "replicas",
	Title: "Replicas",
	Text: `SELECT
	database,
	table,
	is_readonly AS readonly,
	parts_to_check,
	queue_size AS queue,
	absolute_delay AS delay,
	toUnixTimestamp(last_queue_update) AS last_update
FROM system.replicas`,
	Columns: []Column{
		Key("database"),
		Key("table"),
		Label("readonly"),
		Metric("parts_to_check", UnitCount).Titled("to check"),
		Metric("queue", UnitCount),
		Metric("delay", UnitSeconds),
		Metric("last_update", UnitTimestamp).Titled("updated"),
	},
	Order: Then(ByMetricDesc("queue"), ByMetricDesc("delay")),
})

// Errors lists server error counters.
var Errors = MustTemplate(Spec{
	Name:  "errors",
	Title: "Errors",
	Text: `SELECT
	name,
	value,
	toUnixTimestamp(last_error_time) AS error_time,
	last_error_message AS message
FROM system.errors`,
	Columns: []Column{
		Key("name"),
		Metric("value", UnitCount).Titled("count"),
		Metric("error_time", UnitTimestamp).Titled("last"),
		Label("message"),
	},
	Order: ByMetricDesc("value"),
})

// Events lists server event counters; the UI shows their per-second rate.
var Events = MustTemplate(Spec{
	Name:  "events",
	Title: "Events",
	Text: `SELECT
	event,
	value
FROM system.events`,
	Columns: []Column{
		Key("event"),
		Metric("value", UnitCount),
	},
	Order: ByMetricDesc("value"),
})

// Dictionaries lists loaded dictionaries.
var Dictionaries = MustTemplate(Spec{
	Name:  "dictionaries",
	Title: "Dictionaries",
	Text: `SELECT
	name,
	status::String AS status,
	source,
	bytes_allocated AS memory,
	query_count AS queries,
	found_rate,
	load_factor,
	toUnixTimestamp(last_successful_update_time) AS last_update,
	loading_duration,
	last_exception,
	origin
FROM system.dictionaries`,
	Columns: []Column{
		Key("name"),
		Label("status"),
		Label("source"),
		Metric("memory", UnitBytes),
		Metric("queries", UnitCount),
		Metric("found_rate", UnitPercent).Titled("found"),
		Metric("load_factor", UnitPercent).Titled("load"),
		Metric("last_update", UnitTimestamp).Titled("updated"),
		Metric("loading_duration", UnitSeconds).Titled("loading"),
		Label("last_exception").Titled("exception"),
		Label("origin"),
	},
	Order: ByMetricDesc("memory"),
})

// Backups lists backup and restore operations.
var Backups = MustTemplate(Spec{
	Name:  "backups",
	Title: "Backups",
	Text: `SELECT
	id,
	name,
	status::String AS status,
	error,
	toUnixTimestamp(start_time) AS start_time,
	toUnixTimestamp(end_time) AS end_time,
	total_size
FROM system.backups`,
	Columns: []Column{
		Key("id"),
		Label("name"),
		Label("status"),
		Metric("start_time", UnitTimestamp).Titled("started"),
		Metric("end_time", UnitTimestamp).Titled("finished"),
		Metric("total_size", UnitBytes).Titled("size"),
		Label("error"),
	},
	Order: ByMetricDesc("total_size"),
})

// Summary is one row of server health per host. The *_bytes and cpu
// columns are already per-second on the server side.
var Summary = MustTemplate(Spec{
	Name:  "summary",
	Title: "Servers",
	Text: `SELECT
	hostName() AS host_name,
	sumIf(value, metric = 'Uptime') AS uptime,
	sumIf(value, metric = 'OSMemoryTotal') AS memory_total,
	sumIf(value, metric = 'MemoryResident') AS memory_resident,
	sumIf(value, metric LIKE 'OSUserTimeCPU%') AS cpu_user,
	sumIf(value, metric LIKE 'OSSystemTimeCPU%') AS cpu_system,
	sumIf(value, metric LIKE 'NetworkSendBytes%') AS net_send,
	sumIf(value, metric LIKE 'NetworkReceiveBytes%') AS net_receive,
	sumIf(value, metric LIKE 'BlockReadBytes%') AS disk_read,
	sumIf(value, metric LIKE 'BlockWriteBytes%') AS disk_write,
	(SELECT sum(value) FROM system.metrics WHERE metric = 'Query') AS queries,
	(SELECT sum(value) FROM system.metrics WHERE metric = 'Merge') AS merges,
	(SELECT sum(value) FROM system.metrics WHERE metric = 'TCPConnection') AS connections
FROM system.asynchronous_metrics`,
	Columns: []Column{
		Label("host_name").Titled("host"),
		Metric("uptime", UnitSeconds),
		Metric("memory_resident", UnitBytes).Titled("memory"),
		Metric("memory_total", UnitBytes).Titled("total"),
		Metric("cpu_user", UnitCount).Titled("user cpu"),
		Metric("cpu_system", UnitCount).Titled("sys cpu"),
		Metric("net_send", UnitBytes).Titled("net out/s"),
		Metric("net_receive", UnitBytes).Titled("net in/s"),
		Metric("disk_read", UnitBytes).Titled("disk r/s"),
		Metric("disk_write", UnitBytes).Titled("disk w/s"),
		Metric("queries", UnitCount),
		Metric("merges", UnitCount),
		Metric("connections", UnitCount).Titled("conns"),
	},
	Order: ByLabel("host_name"),
})

// Catalog returns the dashboard views in display order.
func Catalog() []*Template {
	return []*Template{
		Processes, SlowQueries, LastQueries, Summary, Merges, Mutations,
		ReplicationQueue, ReplicatedFetches, Replicas, Errors, Events,
		Dictionaries, Backups,
	}
}

// Lookup finds a catalog template by name.
func Lookup(name string) (*Template, bool) {
	for _, t := range Catalog() {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
