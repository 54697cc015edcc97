package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SigV4 presigning constants.
const (
	sigV4Algorithm   = "AWS4-HMAC-SHA256"
	sigV4Terminator  = "aws4_request"
	unsignedPayload  = "UNSIGNED-PAYLOAD"
	amzDateFormat    = "20060102T150405Z"
	amzShortDate     = "20060102"
	signedHeaderList = "host"
)

// Credentials are the static keys presigned URLs are signed with.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Presigner produces SigV4 query-string presigned URLs. Only the host
// header is signed and the payload is UNSIGNED-PAYLOAD, so the URL works
// from any HTTP client.
type Presigner struct {
	creds   Credentials
	region  string
	service string
}

// NewPresigner creates a presigner for service ("s3") in region.
func NewPresigner(creds Credentials, region, service string) *Presigner {
	return &Presigner{creds: creds, region: region, service: service}
}

// Presign signs method on scheme://host/objectPath with extra query
// parameters. objectPath is unescaped; it is URI-encoded per segment.
// expires must be between one second and seven days.
func (p *Presigner) Presign(
	method, scheme, host, objectPath string, extra url.Values, signTime time.Time, expires time.Duration,
) (string, error) {
	if expires < time.Second || expires > MaxPresignTTL {
		return "", fmt.Errorf("delivery: presign expiry %s out of range", expires)
	}

	signTime = signTime.UTC()
	amzDate := signTime.Format(amzDateFormat)
	shortDate := signTime.Format(amzShortDate)
	credScope := shortDate + "/" + p.region + "/" + p.service + "/" + sigV4Terminator
	host = canonicalHost(scheme, host)

	query := url.Values{}
	for k, vs := range extra {
		query[k] = append([]string(nil), vs...)
	}

	query.Set("X-Amz-Algorithm", sigV4Algorithm)
	query.Set("X-Amz-Credential", p.creds.AccessKeyID+"/"+credScope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(expires/time.Second), 10))
	query.Set("X-Amz-SignedHeaders", signedHeaderList)

	if p.creds.SessionToken != "" {
		query.Set("X-Amz-Security-Token", p.creds.SessionToken)
	}

	canonicalURI := encodePath(objectPath)
	canonicalQuery := canonicalQueryString(query)

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		"host:" + host + "\n",
		signedHeaderList,
		unsignedPayload,
	}, "\n")

	stringToSign := strings.Join([]string{
		sigV4Algorithm,
		amzDate,
		credScope,
		hexSHA256(canonicalRequest),
	}, "\n")

	key := deriveSigningKey(p.creds.SecretAccessKey, shortDate, p.region, p.service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	return scheme + "://" + host + canonicalURI + "?" + canonicalQuery + "&X-Amz-Signature=" + signature, nil
}

// deriveSigningKey chains HMAC-SHA256 over date, region, service and the
// terminator, starting from "AWS4" + secret.
func deriveSigningKey(secret, shortDate, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), shortDate)
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)

	return hmacSHA256(k, sigV4Terminator)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))

	return h.Sum(nil)
}

func hexSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalHost lower-cases host and drops the scheme's default port.
func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)

	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}

	return host
}

// canonicalQueryString sorts parameters by encoded name, then value.
func canonicalQueryString(q url.Values) string {
	type pair struct{ k, v string }

	pairs := make([]pair, 0, len(q))

	for k, vs := range q {
		ek := uriEncode(k, true)
		for _, v := range vs {
			pairs = append(pairs, pair{ek, uriEncode(v, true)})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}

		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}

	return strings.Join(parts, "&")
}

// encodePath URI-encodes each segment of p, keeping "/" separators.
func encodePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return uriEncode(p, false)
}

// uriEncode applies SigV4 encoding: unreserved characters stay literal,
// everything else becomes %XX with upper-case hex. "/" is encoded only
// when encodeSlash is set.
func uriEncode(s string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}

	return b.String()
}
