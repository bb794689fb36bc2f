package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hotserve/hotserve/internal/config"
	"github.com/hotserve/hotserve/internal/logging"
	"github.com/hotserve/hotserve/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	overrides   config.Overrides
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 5 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath, opts.overrides)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["root"] = cfg.Root
		fields["env_keys"] = cfg.EnvKeys()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 监听根目录 → 各处理器 → Fiber server。
	srv, err := buildServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer srv.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["root"] = cfg.Root
	fields["listen_port"] = cfg.ListenPort
	fields["fallback"] = cfg.Fallback
	fields["coalesce_content"] = cfg.CoalesceContent
	fields["env_keys"] = cfg.EnvKeys()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, fmt.Sprintf(":%d", cfg.ListenPort), shutdownTimeout); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("hotserve", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（可被 HOTSERVE_CONFIG 提供，缺省时使用内置默认值）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "显示版本信息")
	fs.StringVarP(&opts.overrides.Root, "root", "r", "", "静态文件根目录，覆盖配置中的 Root")
	fs.IntVarP(&opts.overrides.ListenPort, "port", "p", 0, "监听端口，覆盖配置中的 ListenPort")
	fs.StringVar(&opts.overrides.Fallback, "fallback", "", "回退文件名，覆盖配置中的 Fallback")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if rest := fs.Args(); len(rest) > 0 && opts.overrides.Root == "" {
		opts.overrides.Root = rest[0]
	}

	opts.configPath = os.Getenv("HOTSERVE_CONFIG")
	if configFlag != "" {
		opts.configPath = configFlag
	}
	return opts, nil
}
