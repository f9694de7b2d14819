package main

// General API documentation for swaggo. Run `swag init -g cmd/chatd/docs.go -o docs` to regenerate.
//
// @title           chatd API
// @version         1.0
// @description     HTTP API for chatting with locally hosted language models.
//
// @contact.name   chatd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
