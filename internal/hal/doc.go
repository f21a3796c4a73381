// Package hal opens the board peripherals that modules drive.
//
// Two backends exist:
//
//   - periph: real hardware through periph.io host drivers. GPIO by SoC
//     number, I2C and SPI through the periph registries, analog input through
//     Linux IIO sysfs.
//   - sim: an in-memory board whose peripherals record every operation and
//     can be scripted. Used for development and tests.
//
// Peripheral handles use the periph.io/x/conn interfaces (gpio.PinIO,
// i2c.BusCloser, spi.PortCloser, analog.PinADC) so module code is identical
// on both backends. I2S has no portable host interface; both backends serve
// it as a loopback over a DMA-sized Ring.
package hal
