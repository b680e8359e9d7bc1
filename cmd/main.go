package main

import (
	_ "gw-settlement/docs"
	"gw-settlement/internal/app"
	"log"
)

// @title           Settlement & Liquidity Engine API
// @version         1.0
// @description     API движка расчетов: котировки, фиксация курса, мгновенные и отложенные расчеты, пулы ликвидности

// @contact.name   API Support
// @contact.email  support@swagger.io

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	app, err := app.NewApp()
	if err != nil {
		log.Fatalf("Ошибка создания приложения: %v", err)
	}

	app.BuildAuthLayer()

	if err := app.BuildWalletLayer(); err != nil {
		log.Fatalf("Ошибка сборки слоя wallet: %v", err)
	}
	if err := app.BuildQuoteLayer(); err != nil {
		log.Fatalf("Ошибка сборки слоя quotes: %v", err)
	}
	if err := app.BuildSettlementLayer(); err != nil {
		log.Fatalf("Ошибка сборки слоя settlement: %v", err)
	}
	if err := app.BuildPoolLayer(); err != nil {
		log.Fatalf("Ошибка сборки слоя pools: %v", err)
	}
	if err := app.StartBackgroundJobs(); err != nil {
		log.Fatalf("Ошибка запуска фоновых задач: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("Ошибка при работе приложения: %v", err)
	}
}
