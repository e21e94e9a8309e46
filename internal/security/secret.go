package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

// Sealer 对工作区 API Key 等敏感字符串做对称加密存储
type Sealer struct {
	key *[32]byte
}

// NewSealer 由配置种子派生 32 字节密钥；种子为空时返回直通实现
func NewSealer(seed string) *Sealer {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return &Sealer{}
	}
	sum := sha256.Sum256([]byte(seed))
	return &Sealer{key: &sum}
}

// Enabled 是否配置了密钥
func (s *Sealer) Enabled() bool {
	return s != nil && s.key != nil
}

// Seal 加密明文，输出带版本前缀的 base64 字符串
func (s *Sealer) Seal(plain string) (string, error) {
	if !s.Enabled() || plain == "" {
		return plain, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open 解密 Seal 的输出；未加密的历史数据原样返回
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if !s.Enabled() {
		return "", fmt.Errorf("密文存在但未配置加密密钥")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("密文解码失败: %w", err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", fmt.Errorf("密文长度无效")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, s.key)
	if !ok {
		return "", fmt.Errorf("密文校验失败")
	}
	return string(plain), nil
}

// Mask 日志中展示的脱敏形式
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
