// Package supervisor owns one long-lived child process per configured tool
// provider.
//
// Each server moves through NotStarted, Starting, Running and Dead. Start
// spawns the process with piped stdio and waits a short grace period; a
// process that exits within the grace period is logged with its stderr and
// marked Dead without affecting any other server. Once Running, the server's
// stdio is owned by an rpc.Conn which the supervisor hands out through Conn.
//
// The supervisor is the only writer of server state. The handshake manager
// records a completed initialize through MarkInitialized, which is rejected
// if the process has been replaced in the meantime (generation mismatch).
package supervisor
