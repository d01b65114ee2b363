// toml 配置解码，注册到 kratos encoding 后 config.toml 可以和 config.yaml 一样被 file source 读取
package tomlcodec

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/go-kratos/kratos/v2/encoding"
)

// Name 与文件后缀一致，kratos file source 按后缀取 codec
const Name = "toml"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	_, err := toml.Decode(string(data), v)
	return err
}

func (codec) Name() string {
	return Name
}
