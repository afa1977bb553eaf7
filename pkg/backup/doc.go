// Package backup implements the backup/transfer engine: tar.gz
// archive create/restore/delete against a workload's data directory, with
// SHA-256 checksums, plus the chunked base64 upload/download flow used to
// move an archive across the control channel.
package backup
