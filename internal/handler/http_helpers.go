package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// parseUintParam 解析路径参数为 uint，失败返回 false。
func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || value == 0 {
		return 0, false
	}
	return uint(value), true
}

// queryInt 解析查询参数为 int，缺失或非法时返回默认值。
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
