package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/velodown/internal/utils"
)

var (
	statePath     string
	storeKind     string
	s3Bucket      string
	s3Key         string
	s3Profile     string
	redisAddr     string
	redisKey      string
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	debug         bool
)

var VelodownVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "velodown",
	Short:   "Velodown is a resumable CLI download manager",
	Version: VelodownVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// clientConfig turns the transport flags into the HTTP client config. Proxy
// credentials embedded in the proxy URL win over empty credential flags.
func clientConfig() utils.HTTPClientConfig {
	agent := userAgent
	if agent == "randomize" {
		agent = utils.GetRandomUserAgent()
	}
	proxy, username, password := proxyURL, proxyUsername, proxyPassword
	parsedProxy, err := u.Parse(proxy)
	if err == nil && parsedProxy.User != nil && username == "" {
		username = parsedProxy.User.Username()
		if p, set := parsedProxy.User.Password(); set {
			password = p
		}
		parsedProxy.User = nil
		proxy = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:       timeout,
		KATimeout:     kaTimeout,
		ProxyURL:      proxy,
		ProxyUsername: username,
		ProxyPassword: password,
		UserAgent:     agent,
		Headers:       utils.ParseHeaderArgs(headers),
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&statePath, "state", utils.DefaultStatePath(), "Path of the state file (file store)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "file", "State backend: file, s3 or redis")
	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "Bucket holding the state object (s3 store)")
	rootCmd.PersistentFlags().StringVar(&s3Key, "s3-key", "", "Object key of the state document (s3 store)")
	rootCmd.PersistentFlags().StringVar(&s3Profile, "s3-profile", "default", "AWS profile to use (s3 store)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (redis store)")
	rootCmd.PersistentFlags().StringVar(&redisKey, "redis-key", "", "Redis key of the state document (redis store)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (use 'randomize' for a random browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(newServeCmd())
}
