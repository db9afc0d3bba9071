package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"docsync-server/auth"
	"docsync-server/collab"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	maxHttpBufferSize = 50 << 20
	eventTimeout      = 30 * time.Second
)

type (
	ackInvoker func(payload map[string]any)

	// Hub is the protocol side the transport feeds.
	Hub interface {
		Connect(conn collab.Conn, handshake auth.Handshake) error
		Join(ctx context.Context, conn collab.Conn, payload any) error
		Update(ctx context.Context, conn collab.Conn, payload any) error
		Awareness(ctx context.Context, conn collab.Conn, payload any) error
		Leave(ctx context.Context, conn collab.Conn, payload any) error
		Disconnect(ctx context.Context, connID string)
	}

	handlerFunc func(ctx context.Context, conn collab.Conn, payload any) error

	socketConn struct {
		socket *socketio.Socket
	}
)

func (c socketConn) ID() string {
	return string(c.socket.Id())
}

func (c socketConn) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

func (c socketConn) Close() {
	c.socket.Disconnect(true)
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// corsOrigins turns a comma separated CORS_ORIGIN into engine.io origins.
// Empty means localhost only.
func corsOrigins(raw string) []any {
	var origins []any
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []any{localhostOrigin}
	}
	return origins
}

func SetupSocketIO(hub Hub, corsOrigin string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(maxHttpBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigins(corsOrigin),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.Of(collab.Namespace, nil).On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		conn := socketConn{socket: socket}
		utils.Log().Printf("socket %v connected to %v\n", socket.Id(), collab.Namespace)

		if err := hub.Connect(conn, handshakeFrom(socket.Handshake())); err != nil {
			return
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(collab.EventJoin, func(datas ...any) {
			dispatch(conn, hub.Join, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(collab.EventUpdate, func(datas ...any) {
			dispatch(conn, hub.Update, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(collab.EventAwareness, func(datas ...any) {
			dispatch(conn, hub.Awareness, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(collab.EventLeave, func(datas ...any) {
			dispatch(conn, hub.Leave, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			utils.Log().Printf("socket %v disconnected: %v\n", socket.Id(), datas)
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			hub.Disconnect(ctx, conn.ID())
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// dispatch runs one client event and answers its ack, if the client asked
// for one. The hub has already emitted doc:error on failure.
func dispatch(conn collab.Conn, handle handlerFunc, datas []any) {
	ack, args := extractAck(datas)
	var payload any
	if len(args) > 0 {
		payload = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	err := handle(ctx, conn, payload)

	if ack != nil {
		ack(ackPayload(err))
	}
}

func ackPayload(err error) map[string]any {
	if err == nil {
		return map[string]any{"status": "ok"}
	}
	message := collab.MsgInternal
	var ce *collab.ClientError
	if errors.As(err, &ce) {
		message = ce.Message
	}
	return map[string]any{"status": "error", "error": message}
}

// handshakeFrom pulls the credentials out of a socket.io handshake: the
// "token" field of the auth object and the Cookie header, matched case
// insensitively.
func handshakeFrom(handshake *socketio.Handshake) auth.Handshake {
	var h auth.Handshake
	if handshake == nil {
		return h
	}
	if fields, ok := handshake.Auth.(map[string]any); ok {
		h.Token, _ = fields["token"].(string)
	}
	for name, values := range handshake.Headers {
		if strings.EqualFold(name, "cookie") {
			h.CookieHeader = strings.Join(values, "; ")
			break
		}
	}
	return h
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	switch fn := candidate.(type) {
	case nil:
		return nil
	case func(...any):
		return func(payload map[string]any) { fn(payload) }
	case func([]any, error):
		return func(payload map[string]any) { fn([]any{payload}, nil) }
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}
	typ := value.Type()
	return func(payload map[string]any) {
		value.Call(buildAckArgs(typ, payload))
	}
}

// buildAckArgs fits payload to an arbitrary callback signature: the first
// parameter that can hold it gets it, the rest get zero values.
func buildAckArgs(typ reflect.Type, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	if typ.IsVariadic() {
		numIn--
	}
	args := make([]reflect.Value, 0, numIn+1)
	placed := false

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		if !placed {
			if v, ok := coerceValue(payload, paramType); ok {
				args = append(args, v)
				placed = true
				continue
			}
		}
		args = append(args, reflect.Zero(paramType))
	}
	if typ.IsVariadic() && !placed {
		if v, ok := coerceValue(payload, typ.In(typ.NumIn()-1).Elem()); ok {
			args = append(args, v)
		}
	}
	return args
}

func coerceValue(value map[string]any, targetType reflect.Type) (reflect.Value, bool) {
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv, true
	case targetType.Kind() == reflect.Interface && targetType.NumMethod() == 0:
		return rv.Convert(targetType), true
	case targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String:
		return convertMap(value, targetType), true
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType), true
	}
	return reflect.Value{}, false
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}
