/*
Package config loads server configuration from flags and environment
variables via viper. BindFlags registers the flags as local flags on
the given cobra command (cmd/syncd binds them on its serve
subcommand).
*/
package config
