package server

//go:generate swag init -g internal/server/server.go -o docs/swagger -d ../..

// @title Proctor API
// @version 0.1
// @description Violation intake, strike ledger and moderator controls for online exam proctoring.
// @contact.name Proctor Maintainers
// @contact.url https://github.com/raysh454/proctor
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
