// Package protocols 提供与具体传输无关的会话驱动
package protocols

import (
	"context"
	"errors"

	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

// RunSession 按生命周期顺序驱动一个会话：
// OnLink -> OnHandle -> (出错时 OnError) -> 关闭连接 -> OnConnectionClosed。
// 返回会话的错误，上下文取消不算错误
func RunSession(ctx context.Context, conn interfaces.Connection, h interfaces.SessionHandler) error {
	defer func() {
		_ = conn.Close()
		h.OnConnectionClosed(conn)
	}()

	err := h.OnLink(ctx)
	if err == nil {
		err = h.OnHandle(ctx, conn)
	}
	if err != nil && !isCancellation(ctx, err) {
		h.OnError(err)
		return err
	}
	return nil
}

// Connect 拨号并驱动客户端会话，拨号失败通过 OnError 报告
func Connect(ctx context.Context, t interfaces.Transport, h interfaces.SessionHandler) error {
	conn, err := t.Dial(ctx)
	if err != nil {
		if isCancellation(ctx, err) {
			return nil
		}
		h.OnError(err)
		return err
	}
	return RunSession(ctx, conn, h)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
