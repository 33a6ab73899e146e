package livehttp

import "github.com/gin-gonic/gin"

// toggleRequest 用于熔断人工接管与策略开关。
type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RouteRegistrar 由其他 HTTP 子模块实现，挂载到共享 gin 引擎的分组上。
type RouteRegistrar interface {
	Register(group *gin.RouterGroup)
}
