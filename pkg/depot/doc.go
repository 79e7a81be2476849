// Package depot pulls workload manifests from a remote SFTP endpoint.
//
// A fleet typically serves its manifests from a plain SFTP server, the
// depot. Each device pulls its own manifest and feeds it into the
// reconciler. The depot is a pull-only manifest source, not a command
// channel: nothing fetched from it is ever executed, only parsed.
//
// Client dials the depot over SSH with password or key authentication,
// verifies the host key against a known_hosts file when configured, and
// fetches the remote manifest over SFTP. Poller wraps a Client with
// interval polling and checksum deduplication so an unchanged manifest
// does not trigger reconciles.
package depot
