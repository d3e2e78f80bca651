// Package camera カメラからのフレーム取得を担う
//
// # 責務
// - カメラデバイスの検出
// - GStreamer / ffmpeg / 合成映像 のいずれかからのフレーム取得
// - 取り付け向きに合わせた画像の反転
// - 最新フレームを frame.Buffer へ公開し続ける取得ループ
//
// # 仕様
// - Source: 1フレームずつ取り出すカメラの抽象
// - GstSource: v4l2src から appsink でRGBAを直接受け取る
// - FFmpegSource: ffmpeg の MJPEG 出力を SOI/EOI で分割してデコードする
// - SyntheticSource: カメラなしで走らせるための合成レーン映像
// - Acquisition: 取得ループ。取り逃しは黙って次の反復で再試行する
//
// # 前提要件
//   - GStreamer: gst-plugins-base / gst-plugins-good
//     Ubuntu/Debian: sudo apt install libgstreamer1.0-dev libgstreamer-plugins-base1.0-dev
//   - ffmpeg: ffmpeg ソースと録画に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
