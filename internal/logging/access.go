package logging

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AccessTemplate 是访问日志使用的固定格式，字段含义与常见 combined 格式一致，并在行首附加 Host。
const AccessTemplate = `:req[host] :remote-addr - :remote-user [:date[iso]] ":method :url HTTP/:http-version" :status :res[content-length] ":referrer" ":user-agent"`

// isoLayout 对应毫秒精度的 UTC ISO-8601 时间。
const isoLayout = "2006-01-02T15:04:05.000Z"

var basicAuthPattern = regexp.MustCompile(`^ *(?i:basic) +([A-Za-z0-9._~+/-]+=*) *$`)

// AccessEntry 汇总一次请求/响应中访问日志需要的全部字段，空值渲染为 "-"。
type AccessEntry struct {
	Host          string
	RemoteAddr    string
	Authorization string
	Time          time.Time
	Method        string
	URL           string
	ProtoMajor    int
	ProtoMinor    int
	Status        int
	ContentLength string
	Referrer      string
	UserAgent     string
}

// NewAccessEntry 从请求与响应头中提取访问日志字段。status 为 0 表示响应尚未写出。
func NewAccessEntry(r *http.Request, status int, responseHeader http.Header, at time.Time) AccessEntry {
	referrer := r.Header.Get("Referer")
	if referrer == "" {
		referrer = r.Header.Get("Referrer")
	}
	entry := AccessEntry{
		Host:          r.Host,
		RemoteAddr:    remoteIP(r.RemoteAddr),
		Authorization: r.Header.Get("Authorization"),
		Time:          at,
		Method:        r.Method,
		URL:           r.RequestURI,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Status:        status,
		Referrer:      referrer,
		UserAgent:     r.Header.Get("User-Agent"),
	}
	if entry.URL == "" && r.URL != nil {
		entry.URL = r.URL.RequestURI()
	}
	if responseHeader != nil {
		entry.ContentLength = responseHeader.Get("Content-Length")
	}
	return entry
}

// FormatAccessLine 按 AccessTemplate 渲染一行访问日志。
func FormatAccessLine(e AccessEntry) string {
	date := "-"
	if !e.Time.IsZero() {
		date = e.Time.UTC().Format(isoLayout)
	}
	status := "-"
	if e.Status > 0 {
		status = strconv.Itoa(e.Status)
	}
	version := "-"
	if e.ProtoMajor > 0 {
		version = fmt.Sprintf("%d.%d", e.ProtoMajor, e.ProtoMinor)
	}
	return fmt.Sprintf(`%s %s - %s [%s] "%s %s HTTP/%s" %s %s "%s" "%s"`,
		orDash(e.Host),
		orDash(e.RemoteAddr),
		RemoteUser(e.Authorization),
		date,
		orDash(e.Method),
		orDash(e.URL),
		version,
		status,
		orDash(e.ContentLength),
		orDash(e.Referrer),
		orDash(e.UserAgent),
	)
}

// RemoteUser 从 Basic 认证头中解析用户名；缺失或格式错误时返回 "-"。
func RemoteUser(authorization string) string {
	match := basicAuthPattern.FindStringSubmatch(authorization)
	if match == nil {
		return "-"
	}
	decoded, err := base64.StdEncoding.DecodeString(match[1])
	if err != nil {
		return "-"
	}
	user, _, ok := strings.Cut(string(decoded), ":")
	if !ok || user == "" {
		return "-"
	}
	return user
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
