package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lessonserver",
	Short: "Serve small HTTP lessons",
	Long: `lessonserver runs one of the HTTP lessons (status codes, response headers,
request introspection, query strings, request headers, form bodies) on a plain
HTTP/1.1 server.`,
	SilenceUsage: true,
}
