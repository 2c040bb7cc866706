// Package ratelimit implements the per-user fixed-window limiter on the
// shared store. Limits are resolved from the user's tier mapping at check
// time; rejections carry a retry-after hint pointing at the window rollover.
package ratelimit
