// Package service wires the credential refresher, the client cache, the tool
// executor and the workflow controller into one Engine and exposes the
// operations callers use:
//
//   - GetOrCreateMCPData, InvalidateUserCache and ForceRebuildUserCache
//     manage a user's cached tool clients.
//   - RefreshExpiredTokensForUser and EnsureAllTokensFresh renew stored
//     credentials and keep the cache consistent with them.
//   - RunWorkflow and ResumeWorkflow stream workflow events.
//
// Token refreshes can also run in the background. ScheduleRefresh queues a
// user for the refresh worker, and a cron sweep periodically queues every
// user the engine has served. Failures of background refreshes are
// published on Errors.
package service
