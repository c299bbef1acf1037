// Package clientcache keeps one immutable bundle of initialized tool clients
// per user.
//
// A bundle is built on a cache miss: the user's credentials are listed, a
// fresh token is obtained for each configured provider, connections are
// opened through the backend factory and their tool catalogs are merged and
// classified. Providers whose token or discovery fails are left out; a user
// without any usable provider gets an empty bundle, which is cached like any
// other so the expensive build is not retried on every request.
//
// Concurrent misses for the same user share one build (singleflight).
// Invalidate drops both the entry and the in-flight build, and bumps a
// per-user generation so a build that started before the invalidation never
// lands in the cache. Bundles are replaced wholesale; a replaced bundle's
// connections are closed after a grace period so readers holding it can
// finish their calls.
package clientcache
