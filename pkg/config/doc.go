/*
Package config defines the typed configuration of a Sluice gateway instance.

Configuration is a plain struct with explicit defaults (Default), loaded from
a single YAML file (Load) and validated up front (Validate). Every recognized
option is a named field; unknown YAML keys are ignored by the decoder and
there is no dynamic option map.

Runtime holds the small set of knobs that may change while the process runs
(tracker sample rate, cache on/off, queue failover on/off). They are guarded
by a RWMutex and exposed through the admin config endpoint.
*/
package config
