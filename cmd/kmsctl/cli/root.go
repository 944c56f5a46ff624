package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"keyledger/backend/internal/client"
)

// Execute 构建命令树并执行
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("KMS")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "kmsctl",
		Short: "Operate a key management ledger server",
		Long: `kmsctl talks to a running key management server over HTTP.

Admin commands need a master key, passed with --master-key or KMS_MASTER_KEY.
The server address comes from --server or KMS_URL.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("server", client.DefaultBaseURL, "server base URL")
	cmd.PersistentFlags().String("master-key", "", "master key for admin commands")
	cmd.PersistentFlags().Duration("timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().Bool("json", false, "output as JSON")

	_ = v.BindPFlag("url", cmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("master_key", cmd.PersistentFlags().Lookup("master-key"))
	_ = v.BindPFlag("timeout", cmd.PersistentFlags().Lookup("timeout"))
	_ = v.BindPFlag("json", cmd.PersistentFlags().Lookup("json"))

	app := &app{v: v}
	cmd.AddCommand(newKeyCmd(app))
	cmd.AddCommand(newMasterCmd(app))
	cmd.AddCommand(newHealthCmd(app))

	return cmd
}

// app 保存命令间共享的客户端设置
type app struct {
	v *viper.Viper
}

func (a *app) client() *client.Client {
	return client.New(
		a.v.GetString("url"),
		client.WithMasterKey(a.v.GetString("master_key")),
		client.WithTimeout(a.v.GetDuration("timeout")),
	)
}

func (a *app) jsonOutput() bool {
	return a.v.GetBool("json")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
