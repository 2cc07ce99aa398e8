// cmd/server/main.go
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/QuestWeaver/internal/app"
	"github.com/Corphon/QuestWeaver/internal/config"
)

func main() {
	log.Println("🚀 启动 QuestWeaver 服务器...")

	// 1. 加载基础配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", cfg.Port)

	// 2. 创建必要的目录
	createDirectories(cfg)

	// 3. 初始化配置、日志、服务与路由
	if err := app.Initialize(cfg); err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	log.Printf("🔗 访问地址: http://localhost:%s/api/health", cfg.Port)
	log.Printf("🔗 生成后端: %s", cfg.BackendURL)

	// 4. 运行直到收到停止信号
	if err := app.Run(); err != nil {
		log.Fatalf("❌ 服务器异常退出: %v", err)
	}
	log.Println("✅ 服务器优雅关闭完成")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
