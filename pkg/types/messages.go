package types

// Envelope is the shape every control-channel frame shares: a type tag plus
// whatever fields that type needs. Inbound messages are decoded into this
// loose form first and then picked apart field-by-field, since the backend
// is free to omit fields legacy paths tolerate (serverId or serverUuid may
// be absent, never both).
type Envelope map[string]any

// String reads a string field, returning "" if absent or of the wrong type.
func (e Envelope) String(key string) string {
	v, ok := e[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Bool reads a bool field, returning false if absent or of the wrong type.
func (e Envelope) Bool(key string) bool {
	v, _ := e[key].(bool)
	return v
}

// Int reads a numeric field as int. JSON numbers decode as float64, so this
// also accepts that.
func (e Envelope) Int(key string) int {
	switch v := e[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Int64 reads a numeric field as int64.
func (e Envelope) Int64(key string) int64 {
	switch v := e[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// Map reads a nested object field.
func (e Envelope) Map(key string) map[string]any {
	v, _ := e[key].(map[string]any)
	return v
}

// StringMap reads a nested object field whose values are all strings,
// dropping any entry that isn't.
func (e Envelope) StringMap(key string) map[string]string {
	raw := e.Map(key)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Identity pulls the (serverId, serverUuid) pair a command is addressed to.
// Either may be empty; the dispatcher resolves identity by trying both
// against the runtime.
func (e Envelope) Identity() (serverID, serverUUID string) {
	return e.String("serverId"), e.String("serverUuid")
}

// Outbound message type tags.
const (
	MsgNodeHandshake         = "node_handshake"
	MsgHeartbeat             = "heartbeat"
	MsgServerStateUpdate     = "server_state_update"
	MsgServerStateSync       = "server_state_sync"
	MsgServerStateSyncDone   = "server_state_sync_complete"
	MsgConsoleOutput         = "console_output"
	MsgBackupComplete        = "backup_complete"
	MsgBackupRestoreComplete = "backup_restore_complete"
	MsgBackupDeleteComplete  = "backup_delete_complete"
	MsgBackupDownloadResp    = "backup_download_response"
	MsgBackupDownloadChunk   = "backup_download_chunk"
	MsgBackupUploadResp      = "backup_upload_response"
	MsgBackupUploadChunkResp = "backup_upload_chunk_response"
	MsgStorageResizeComplete = "storage_resize_complete"
	MsgHealthReport          = "health_report"
	MsgResourceStats         = "resource_stats"
)

// Inbound message type tags.
const (
	InServerControl         = "server_control"
	InInstallServer         = "install_server"
	InStartServer           = "start_server"
	InRestartServer         = "restart_server"
	InStopServer            = "stop_server"
	InKillServer            = "kill_server"
	InConsoleInput          = "console_input"
	InResumeConsole         = "resume_console"
	InFileOperation         = "file_operation"
	InCreateBackup          = "create_backup"
	InRestoreBackup         = "restore_backup"
	InDeleteBackup          = "delete_backup"
	InDownloadBackupStart   = "download_backup_start"
	InDownloadBackup        = "download_backup"
	InUploadBackupStart     = "upload_backup_start"
	InUploadBackupChunk     = "upload_backup_chunk"
	InUploadBackupComplete  = "upload_backup_complete"
	InResizeStorage         = "resize_storage"
	InNodeHandshakeResponse = "node_handshake_response"
)

// ConsoleStream identifies which stream a console_output line came from.
type ConsoleStream string

const (
	StreamStdout ConsoleStream = "stdout"
	StreamStderr ConsoleStream = "stderr"
	StreamStdin  ConsoleStream = "stdin"
	StreamSystem ConsoleStream = "system"
)
