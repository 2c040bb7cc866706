// Package validate applies the request check pipeline: query presence and
// length bounds, attack-pattern screening, and model/provider whitelist
// membership. Security failures are logged with the user ID and a bounded
// prefix of the offending field.
package validate
